package automation_test

import (
	"strings"
	"testing"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneNodes_IsIndependent(t *testing.T) {
	a, err := automation.LoadAutomationFromFile("test_fixtures/stock_lookup.yml")
	require.NoError(t, err)

	body := a.Nodes[2].ForLoop.Nodes
	copied, err := automation.CloneNodes(body)
	require.NoError(t, err)

	automation.RewriteNodeStrings(copied, func(s string) string {
		return strings.ReplaceAll(s, "{tickers[index]}", "{tickers[1]}")
	})

	assert.Equal(t, []string{"{tickers[1]}"}, copied[0].Action.Interaction.SelectOption.SelectValues)
	assert.Equal(t, `"{tickers[1]}" == "NVDA"`, copied[1].IfElse.Condition)
	assert.Equal(t, []string{"{tickers[index]}"}, body[0].Action.Interaction.SelectOption.SelectValues,
		"the original body must not change")
	assert.Equal(t, `"{tickers[index]}" == "NVDA"`, body[1].IfElse.Condition)

	// Defaults and explicit values survive the round trip.
	assert.Equal(t, body[0].Action.EndSleepTime, copied[0].Action.EndSleepTime)
	assert.Equal(t, body[0].Action.Interaction.MaxTries, copied[0].Action.Interaction.MaxTries)
}

func TestCloneAction_KeepsExplicitZero(t *testing.T) {
	a, err := automation.LoadAutomationFromFile("test_fixtures/stock_lookup.yml")
	require.NoError(t, err)

	c, err := automation.CloneAction(a.Nodes[1].Action)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.EndSleepTime)
	assert.True(t, c.Interaction.InputText.PressEnter)
	assert.True(t, c.Interaction.InputText.AssertLocatorPresence)
}

func TestRewriteStrings_CoversPayloads(t *testing.T) {
	node := &automation.ActionNode{
		Fetch2FA: &automation.Fetch2FAAction{
			Instructions: "{x[0]}",
			Email:        &automation.EmailTwoFA{ReceiverEmailAddress: "{x[0]}", SenderEmailAddress: "s"},
		},
	}
	node.RewriteStrings(func(s string) string { return strings.ReplaceAll(s, "{x[0]}", "v") })
	assert.Equal(t, "v", node.Fetch2FA.Instructions)
	assert.Equal(t, "v", node.Fetch2FA.Email.ReceiverEmailAddress)
}
