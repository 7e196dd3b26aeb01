package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ztinspect/internal/policy"
)

func TestValidate_NoZones(t *testing.T) {
	fs := Validate(policy.New("empty", ""))
	require.Len(t, fs, 1)
	assert.Equal(t, SeverityError, fs[0].Severity)
	assert.Equal(t, "no zones defined", fs[0].Message)
	assert.True(t, fs.HasErrors())
}

func TestValidate_EmptyZoneWarns(t *testing.T) {
	p := policyWithZones(t, "Lonely")
	fs := Validate(p)
	require.Len(t, fs, 1)
	assert.Equal(t, SeverityWarning, fs[0].Severity)
	assert.Equal(t, "Lonely", fs[0].Zone)
	assert.False(t, fs.HasErrors())
	assert.Len(t, fs.Warnings(), 1)
}

func TestValidate_UnknownZoneReference(t *testing.T) {
	p := policyWithZones(t, "A")
	require.NoError(t, p.AssignDevice("A", policy.MustDevice("10.0.0.1")))
	// Bypass AddRule's check to model a policy edited by hand.
	p.Rules = append(p.Rules,
		policy.Rule{Source: "A", Destination: "Ghost", Action: policy.ActionDeny},
		policy.Rule{Source: "Phantom", Destination: "Spectre", Action: policy.ActionAllow},
	)

	fs := Validate(p)
	errs := fs.Errors()
	require.Len(t, errs, 3, "one error per missing endpoint")

	named := map[string]bool{}
	for _, f := range errs {
		named[f.Zone] = true
		assert.Contains(t, f.Message, f.Zone)
	}
	assert.True(t, named["Ghost"])
	assert.True(t, named["Phantom"])
	assert.True(t, named["Spectre"])
	assert.Equal(t, 0, errs[0].Rule)
	assert.Equal(t, 1, errs[1].Rule)
}

func TestValidate_IdentifierClash(t *testing.T) {
	p := policyWithZones(t, "IoT", "iot", "Guest")
	for i, name := range []string{"IoT", "iot", "Guest"} {
		require.NoError(t, p.AssignDevice(name, policy.MustDevice(fmt.Sprintf("10.0.%d.1", i))))
	}

	errs := Validate(p).Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "IoT", errs[0].Zone)
	assert.Contains(t, errs[0].Message, `"iot"`)
}

func TestValidate_CleanPolicy(t *testing.T) {
	p := threeZonePolicy(t)
	require.NoError(t, GenerateDefaultRules(p))
	assert.Empty(t, Validate(p))
}

func TestValidate_DeviceChecks(t *testing.T) {
	p := policyWithZones(t, "A", "B")
	p.Zone("A").NetworkRange = "10.0.0.0/24"
	require.NoError(t, p.Zone("A").AddDevice(policy.MustDevice("10.0.1.9")))
	// Shared membership can only arise from a hand-built policy.
	require.NoError(t, p.Zone("B").AddDevice(policy.MustDevice("10.0.1.9")))

	fs := Validate(p)
	assert.Len(t, fs.Warnings(), 1, "device outside range")
	assert.Len(t, fs.Errors(), 1, "device in two zones")
}
