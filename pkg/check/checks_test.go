package check

import (
	"regexp"
	"testing"

	"gotest.tools/assert"
)

func TestChecks(t *testing.T) {
	assert.NilError(t, True(true))
	assert.ErrorContains(t, True(false, "custom message"), "custom message")
	assert.NilError(t, False(false))
	assert.ErrorContains(t, False(true, "%s is on", "flag"), "flag is on")

	assert.NilError(t, NotEmpty("x"))
	assert.ErrorContains(t, NotEmpty("", "name must be set"), "name must be set")

	assert.NilError(t, In("b", []string{"a", "b"}))
	assert.ErrorContains(t, In("c", []string{"a", "b"}), "not in")

	assert.NilError(t, GreaterThan(2, 1))
	assert.ErrorContains(t, GreaterThan(1, 1), "not greater")
	assert.NilError(t, GreaterThanOrEqualTo(1, 1))
	assert.NilError(t, LessThanOrEqualTo(1, 1))
	assert.ErrorContains(t, LessThanOrEqualTo(2, 1), "not less")

	assert.NilError(t, BetweenInclusive(0.5, 0, 1))
	assert.ErrorContains(t, BetweenInclusive(1.5, 0, 1), "not between")

	re := regexp.MustCompile(`^[a-z-]+$`)
	assert.NilError(t, Match("ab-cd", re))
	assert.ErrorContains(t, Match("Ab", re), "does not match")
}

type validatableLeaf struct {
	Value int
}

func (v validatableLeaf) Validate() []error {
	return []error{
		GreaterThan(int64(v.Value), 0, "value must be positive"),
	}
}

type validatableRoot struct {
	Leaf   validatableLeaf
	Nested []validatableLeaf
	ByName map[string]validatableLeaf
}

func TestValidateWalks(t *testing.T) {
	ok := validatableRoot{
		Leaf:   validatableLeaf{Value: 1},
		Nested: []validatableLeaf{{Value: 2}},
		ByName: map[string]validatableLeaf{"a": {Value: 3}},
	}
	assert.NilError(t, Validate(ok))

	bad := validatableRoot{
		Leaf:   validatableLeaf{Value: 0},
		Nested: []validatableLeaf{{Value: 0}},
		ByName: map[string]validatableLeaf{"a": {Value: 0}},
	}
	err := Validate(bad)
	assert.ErrorContains(t, err, "3 errors found")
	assert.ErrorContains(t, err, "value must be positive")
	assert.ErrorContains(t, err, "root.Nested[0]")
	assert.ErrorContains(t, err, "root.ByName[a]")
}
