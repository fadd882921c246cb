package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolPolicy(t *testing.T) {
	var nilPolicy *ToolPolicy
	assert.True(t, nilPolicy.IsToolAllowed("anything"))

	denyOnly := &ToolPolicy{Deny: []string{"sales_summary"}}
	assert.False(t, denyOnly.IsToolAllowed("sales_summary"))
	assert.True(t, denyOnly.IsToolAllowed("get_product"))

	allowList := &ToolPolicy{Allow: []string{"get_product"}}
	assert.True(t, allowList.IsToolAllowed("get_product"))
	assert.False(t, allowList.IsToolAllowed("list_sales"))

	denyWins := &ToolPolicy{Allow: []string{"*"}, Deny: []string{"list_employees"}}
	assert.False(t, denyWins.IsToolAllowed("list_employees"))
	assert.True(t, denyWins.IsToolAllowed("list_clients"))

	assert.NoError(t, denyWins.Validate())
	assert.Error(t, (&ToolPolicy{Allow: []string{""}}).Validate())
}
