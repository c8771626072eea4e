package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdictForRole(t *testing.T) {
	assert.Equal(t, Manage, VerdictForRole("manager"))
	assert.Equal(t, Edit, VerdictForRole("editor"))
	assert.Equal(t, View, VerdictForRole("viewer"))
	assert.Equal(t, Denied, VerdictForRole("guest"))
	assert.Equal(t, Denied, VerdictForRole(""))
}

func TestAllows(t *testing.T) {
	assert.True(t, Manage.Allows(Edit))
	assert.True(t, Edit.Allows(Edit))
	assert.True(t, View.Allows(View))
	assert.False(t, View.Allows(Edit))
	assert.False(t, Edit.Allows(Manage))
	assert.False(t, Denied.Allows(Denied))
	assert.Equal(t, "edit access required", ForbiddenError{Required: Edit}.Error())
}
