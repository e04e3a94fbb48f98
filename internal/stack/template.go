package stack

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/machinist-ai/machinist/pkg/check"
)

// Plan describes the network stack to be provisioned: a VPC with one public
// and one private /24 subnet per zone, an internet gateway, a NAT path for
// the private side, and a security group for workshop workloads.
type Plan struct {
	Name    string            `json:"name"`
	VpcCIDR string            `json:"vpc_cidr"`
	Zones   int               `json:"zones"`
	Tags    map[string]string `json:"tags"`
}

// DefaultPlan returns the workshop's default network plan.
func DefaultPlan() Plan {
	return Plan{
		Name:    "machinist-network",
		VpcCIDR: "10.0.0.0/16",
		Zones:   2,
	}
}

var stackNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,127}$`)

// Validate implements the check.Validatable interface.
func (p Plan) Validate() []error {
	errs := []error{
		check.Match(p.Name, stackNamePattern,
			"stack name must start with a letter and contain only letters, digits and hyphens"),
		check.True(p.Zones >= 1 && p.Zones <= 4, "zone count must be within [1, 4]"),
	}
	if _, err := PlanLayout(p.VpcCIDR, clampZones(p.Zones)); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func clampZones(zones int) int {
	if zones < 1 {
		return 1
	}
	if zones > 4 {
		return 4
	}
	return zones
}

// Template is an infrastructure template document in the provisioning
// service's schema.
type Template struct {
	AWSTemplateFormatVersion string              `json:"AWSTemplateFormatVersion"`
	Description              string              `json:"Description,omitempty"`
	Resources                map[string]Resource `json:"Resources"`
	Outputs                  map[string]Output   `json:"Outputs,omitempty"`
}

// Resource is one declared managed resource.
type Resource struct {
	Type       string                 `json:"Type"`
	Properties map[string]interface{} `json:"Properties,omitempty"`
	DependsOn  []string               `json:"DependsOn,omitempty"`
}

// Output is one named stack output for downstream consumption.
type Output struct {
	Description string      `json:"Description,omitempty"`
	Value       interface{} `json:"Value"`
	Export      *Export     `json:"Export,omitempty"`
}

// Export names an output for cross-stack references.
type Export struct {
	Name string `json:"Name"`
}

// JSON renders the template document for submission.
func (t Template) JSON() (string, error) {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "cannot marshal template")
	}
	return string(raw), nil
}

// YAML renders the template for humans.
func (t Template) YAML() (string, error) {
	raw, err := yaml.Marshal(t)
	if err != nil {
		return "", errors.Wrap(err, "cannot marshal template")
	}
	return string(raw), nil
}

// Intrinsic function helpers.

func ref(logicalID string) map[string]interface{} {
	return map[string]interface{}{"Ref": logicalID}
}

func getAtt(logicalID, attribute string) map[string]interface{} {
	return map[string]interface{}{"Fn::GetAtt": []string{logicalID, attribute}}
}

func selectAZ(index int) map[string]interface{} {
	return map[string]interface{}{
		"Fn::Select": []interface{}{
			index,
			map[string]interface{}{"Fn::GetAZs": ""},
		},
	}
}

func joinComma(parts []interface{}) map[string]interface{} {
	return map[string]interface{}{
		"Fn::Join": []interface{}{",", parts},
	}
}

// Render builds the template for the plan. The output is deterministic for a
// given plan, which keeps stack updates no-ops when nothing changed.
func Render(p Plan) (Template, error) {
	if err := check.Validate(p); err != nil {
		return Template{}, err
	}
	layout, err := PlanLayout(p.VpcCIDR, p.Zones)
	if err != nil {
		return Template{}, err
	}

	tags := func(name string) []interface{} {
		out := []interface{}{
			map[string]interface{}{"Key": "Name", "Value": name},
			map[string]interface{}{"Key": "machinist-stack", "Value": p.Name},
		}
		for key, value := range p.Tags {
			out = append(out, map[string]interface{}{"Key": key, "Value": value})
		}
		return out
	}

	resources := map[string]Resource{
		"Vpc": {
			Type: "AWS::EC2::VPC",
			Properties: map[string]interface{}{
				"CidrBlock":          layout.VpcCIDR,
				"EnableDnsSupport":   true,
				"EnableDnsHostnames": true,
				"Tags":               tags(p.Name),
			},
		},
		"InternetGateway": {
			Type: "AWS::EC2::InternetGateway",
			Properties: map[string]interface{}{
				"Tags": tags(p.Name + "-igw"),
			},
		},
		"GatewayAttachment": {
			Type: "AWS::EC2::VPCGatewayAttachment",
			Properties: map[string]interface{}{
				"VpcId":             ref("Vpc"),
				"InternetGatewayId": ref("InternetGateway"),
			},
		},
		"NatEip": {
			Type:      "AWS::EC2::EIP",
			DependsOn: []string{"GatewayAttachment"},
			Properties: map[string]interface{}{
				"Domain": "vpc",
			},
		},
		"NatGateway": {
			Type: "AWS::EC2::NatGateway",
			Properties: map[string]interface{}{
				"AllocationId": getAtt("NatEip", "AllocationId"),
				"SubnetId":     ref("PublicSubnet1"),
				"Tags":         tags(p.Name + "-nat"),
			},
		},
		"PublicRouteTable": {
			Type: "AWS::EC2::RouteTable",
			Properties: map[string]interface{}{
				"VpcId": ref("Vpc"),
				"Tags":  tags(p.Name + "-public"),
			},
		},
		"PublicDefaultRoute": {
			Type:      "AWS::EC2::Route",
			DependsOn: []string{"GatewayAttachment"},
			Properties: map[string]interface{}{
				"RouteTableId":         ref("PublicRouteTable"),
				"DestinationCidrBlock": "0.0.0.0/0",
				"GatewayId":            ref("InternetGateway"),
			},
		},
		"PrivateRouteTable": {
			Type: "AWS::EC2::RouteTable",
			Properties: map[string]interface{}{
				"VpcId": ref("Vpc"),
				"Tags":  tags(p.Name + "-private"),
			},
		},
		"PrivateDefaultRoute": {
			Type: "AWS::EC2::Route",
			Properties: map[string]interface{}{
				"RouteTableId":         ref("PrivateRouteTable"),
				"DestinationCidrBlock": "0.0.0.0/0",
				"NatGatewayId":         ref("NatGateway"),
			},
		},
		"WorkloadSecurityGroup": {
			Type: "AWS::EC2::SecurityGroup",
			Properties: map[string]interface{}{
				"GroupDescription": "machinist workshop workloads",
				"VpcId":            ref("Vpc"),
				"SecurityGroupIngress": []interface{}{
					map[string]interface{}{
						"IpProtocol":  "-1",
						"CidrIp":      layout.VpcCIDR,
						"Description": "all traffic from inside the VPC",
					},
				},
				"SecurityGroupEgress": []interface{}{
					map[string]interface{}{
						"IpProtocol":  "-1",
						"CidrIp":      "0.0.0.0/0",
						"Description": "all egress",
					},
				},
				"Tags": tags(p.Name + "-workloads"),
			},
		},
	}

	var publicRefs, privateRefs []interface{}
	for i := 0; i < p.Zones; i++ {
		pub := fmt.Sprintf("PublicSubnet%d", i+1)
		priv := fmt.Sprintf("PrivateSubnet%d", i+1)
		publicRefs = append(publicRefs, ref(pub))
		privateRefs = append(privateRefs, ref(priv))

		resources[pub] = Resource{
			Type: "AWS::EC2::Subnet",
			Properties: map[string]interface{}{
				"VpcId":               ref("Vpc"),
				"CidrBlock":           layout.PublicCIDRs[i],
				"AvailabilityZone":    selectAZ(i),
				"MapPublicIpOnLaunch": true,
				"Tags":                tags(fmt.Sprintf("%s-public-%d", p.Name, i+1)),
			},
		}
		resources[priv] = Resource{
			Type: "AWS::EC2::Subnet",
			Properties: map[string]interface{}{
				"VpcId":               ref("Vpc"),
				"CidrBlock":           layout.PrivateCIDRs[i],
				"AvailabilityZone":    selectAZ(i),
				"MapPublicIpOnLaunch": false,
				"Tags":                tags(fmt.Sprintf("%s-private-%d", p.Name, i+1)),
			},
		}
		resources[pub+"RouteTableAssociation"] = Resource{
			Type: "AWS::EC2::SubnetRouteTableAssociation",
			Properties: map[string]interface{}{
				"SubnetId":     ref(pub),
				"RouteTableId": ref("PublicRouteTable"),
			},
		}
		resources[priv+"RouteTableAssociation"] = Resource{
			Type: "AWS::EC2::SubnetRouteTableAssociation",
			Properties: map[string]interface{}{
				"SubnetId":     ref(priv),
				"RouteTableId": ref("PrivateRouteTable"),
			},
		}
	}

	outputs := map[string]Output{
		"VpcId": {
			Description: "ID of the workshop VPC",
			Value:       ref("Vpc"),
			Export:      &Export{Name: p.Name + "-vpc-id"},
		},
		"PublicSubnetIds": {
			Description: "comma-separated public subnet IDs",
			Value:       joinComma(publicRefs),
			Export:      &Export{Name: p.Name + "-public-subnet-ids"},
		},
		"PrivateSubnetIds": {
			Description: "comma-separated private subnet IDs",
			Value:       joinComma(privateRefs),
			Export:      &Export{Name: p.Name + "-private-subnet-ids"},
		},
		"SecurityGroupId": {
			Description: "security group for workshop workloads",
			Value:       getAtt("WorkloadSecurityGroup", "GroupId"),
			Export:      &Export{Name: p.Name + "-security-group-id"},
		},
	}

	return Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description: fmt.Sprintf(
			"machinist workshop network: %s across %d zones", p.VpcCIDR, p.Zones),
		Resources: resources,
		Outputs:   outputs,
	}, nil
}
