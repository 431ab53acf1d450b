package scriptmind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapkit/synapd/pkg/event"
	"github.com/synapkit/synapd/pkg/plugin"
)

func engine(t *testing.T, script string) *Plugin {
	t.Helper()
	values := map[string]string{}
	if script != "" {
		values["script"] = script
	}
	p, err := New(context.Background(), plugin.Config{ID: ID, Values: values})
	require.NoError(t, err)
	return p.(*Plugin)
}

func TestDefaultScriptEchoes(t *testing.T) {
	p := engine(t, "")

	reply, err := p.Think(context.Background(),
		event.AgentRef{ID: "agent.x", Name: "Ada"},
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "hello"),
		nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada heard: hello", reply)
}

func TestCustomScriptSeesContext(t *testing.T) {
	p := engine(t, `
function think(agent, message, context) {
	return "ctx=" + context.length + " last=" + (context.length ? context[context.length-1].content : "none");
}
`)

	history := []event.Message{
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "first"),
		event.NewMessage(event.Source{Kind: event.SourceAgent, ID: "a"}, "second"),
	}
	reply, err := p.Think(context.Background(), event.AgentRef{ID: "a"},
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "now"), history)
	require.NoError(t, err)
	assert.Equal(t, "ctx=2 last=second", reply)
}

func TestBrokenScriptFailsConstruction(t *testing.T) {
	_, err := New(context.Background(), plugin.Config{ID: ID, Values: map[string]string{
		"script": "function think( {",
	}})
	assert.Error(t, err)
}

func TestScriptWithoutThinkFails(t *testing.T) {
	p := engine(t, `var x = 1;`)
	_, err := p.Think(context.Background(), event.AgentRef{},
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "x"), nil)
	assert.Error(t, err)
}

func TestRunawayScriptIsInterrupted(t *testing.T) {
	p := engine(t, `function think(a, m, c) { while (true) {} }`)

	_, err := p.Think(context.Background(), event.AgentRef{},
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "x"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
}

func TestOnEventAnswersOnlyItsEngine(t *testing.T) {
	p := engine(t, "")
	msg := event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "q")

	derived, err := p.OnEvent(context.Background(), event.New(event.ThoughtRequested{
		Agent: event.AgentRef{ID: "a", Name: "Ada"}, EngineID: ID, Message: msg,
	}))
	require.NoError(t, err)
	resp, ok := derived.(event.ThoughtResponse)
	require.True(t, ok)
	assert.Equal(t, msg.ID, resp.SourceMessageID)

	derived, err = p.OnEvent(context.Background(), event.New(event.ThoughtRequested{
		Agent: event.AgentRef{ID: "a"}, EngineID: "other.engine", Message: msg,
	}))
	require.NoError(t, err)
	assert.Nil(t, derived)
}

func TestSetScriptValidates(t *testing.T) {
	p := engine(t, "")
	assert.Error(t, p.SetScript("function ("))
	assert.NoError(t, p.SetScript(`function think(a,m,c){ return "ok"; }`))

	reply, err := p.Think(context.Background(), event.AgentRef{},
		event.NewMessage(event.Source{Kind: event.SourceUser, ID: "u"}, "x"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}
