package gateway

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "machinist",
	Subsystem: "gateway",
	Name:      "requests_total",
	Help:      "Prediction requests served by the local gateway, by method and status code.",
}, []string{"method", "code"})

var requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "machinist",
	Subsystem: "gateway",
	Name:      "request_duration_seconds",
	Help:      "Prediction request latency as seen by the local gateway.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method"})

// NewServer wraps the handler in a local development server carrying the same
// route shape as the managed gateway, plus request metrics at /metrics.
func NewServer(handler *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.OFF)
	e.Use(middleware.Recover())
	e.Use(requestLogger(logrus.WithField("component", "gateway")))
	e.Use(requestMetrics)

	// The handler owns method dispatch, including the 405 answer, so every
	// method lands on it.
	e.Any("/predict", echo.WrapHandler(handler))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func requestLogger(syslog *logrus.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			syslog.WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Request().URL.Path,
				"code":   c.Response().Status,
			}).Info("request served")
			return err
		}
	}
}

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method
		timer := prometheus.NewTimer(requestSeconds.WithLabelValues(method))
		err := next(c)
		timer.ObserveDuration()
		requestsTotal.WithLabelValues(method, strconv.Itoa(c.Response().Status)).Inc()
		return err
	}
}
