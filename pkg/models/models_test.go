package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemplateType_Valid(t *testing.T) {
	assert.True(t, TemplateOutreach.Valid())
	assert.True(t, TemplateCustom.Valid())
	assert.False(t, TemplateType("newsletter").Valid())
	assert.False(t, TemplateType("").Valid())
}

func TestEmailTemplate_GroupAndOpenRate(t *testing.T) {
	tmpl := &EmailTemplate{VariantGroup: "  intro-ab ", SendCount: 4, OpenCount: 1}
	assert.Equal(t, "intro-ab", tmpl.Group())
	assert.InDelta(t, 0.25, tmpl.OpenRate(), 1e-9)

	solo := &EmailTemplate{VariantGroup: "   "}
	assert.Equal(t, "", solo.Group())
	assert.Equal(t, 0.0, solo.OpenRate())

	// more opens than sends is kept as data
	odd := &EmailTemplate{SendCount: 1, OpenCount: 3}
	assert.InDelta(t, 3.0, odd.OpenRate(), 1e-9)
}

func TestPartnerDetails_Outstanding(t *testing.T) {
	assert.Equal(t, 2, PartnerDetails{DeliverablesAgreed: 5, DeliverablesDelivered: 3}.Outstanding())
	assert.Equal(t, 0, PartnerDetails{DeliverablesAgreed: 2, DeliverablesDelivered: 4}.Outstanding())
}
