package viz

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/grocery-sync/pkg/amdoc"
	"github.com/astromechza/grocery-sync/pkg/model"
)

func TestLabel(t *testing.T) {
	assert.Equal(t, "(absent)", Label("", false))
	assert.Equal(t, "(unreadable)", Label("{", true))
	assert.Equal(t, "milk [stuffed] @7", Label(`{"name":"milk","state":"stuffed","updated":7}`, true))
}

func TestPath(t *testing.T) {
	assert.Equal(t, []interface{}{"items", "milk"}, Path(model.Key{Kind: model.KindItem, ID: "milk"}))
	assert.Equal(t, []interface{}{"categories", "dairy"}, Path(model.Key{Kind: model.KindCategory, ID: "dairy"}))
}

func TestRender(t *testing.T) {
	doc, err := amdoc.New("me")
	assert.Equal(t, nil, err)
	st := model.NewState()
	for i, name := range []string{"milk", "oat milk"} {
		st.Document.Items["milk"] = model.Item{ID: "milk", Name: name, State: model.ItemRequired, Updated: int64(i + 1)}
		st.Revision = uint64(i + 1)
		_, err := doc.Write(st)
		assert.Equal(t, nil, err)
	}

	var buf bytes.Buffer
	assert.Equal(t, nil, Render(doc, model.Key{Kind: model.KindItem, ID: "milk"}, &buf))
	out := buf.String()
	assert.Equal(t, true, strings.Contains(out, "<svg"))
	assert.Equal(t, true, strings.Contains(out, "oat milk [required] @2"))
}
