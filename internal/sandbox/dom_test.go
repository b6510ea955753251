package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDOMHasRenderTarget(t *testing.T) {
	dom := NewDOM()

	app := dom.App()
	require.NotNil(t, app)
	assert.Equal(t, "div", app.TagName)
	assert.Equal(t, "body", app.Parent.TagName)
	assert.Empty(t, dom.GetChanges())
}

func TestDOMQuery(t *testing.T) {
	dom := NewDOM()
	app := dom.App()

	item := dom.CreateElement("LI")
	item.SetAttribute("class", "item active")
	app.AppendChild(item)

	tests := []struct {
		selector string
		want     int
	}{
		{"#app", 1},
		{"#missing", 0},
		{".item", 1},
		{".act", 0},
		{"li", 1},
		{"div", 1},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			assert.Len(t, dom.Query(tt.selector), tt.want)
		})
	}
}

func TestElementRecordsChanges(t *testing.T) {
	dom := NewDOM()
	app := dom.App()

	span := dom.CreateElement("span")
	span.SetAttribute("id", "greeting")
	app.AppendChild(span)
	span.SetText("hello")

	assert.Equal(t, []DOMChange{
		{Type: "set_attribute", Selector: "#greeting", Property: "id", Value: "greeting"},
		{Type: "append_child", Selector: "#app", Value: "#greeting"},
		{Type: "set_text", Selector: "#greeting", Value: "hello"},
	}, dom.GetChanges())
	assert.Equal(t, "hello", app.Text())

	app.SetText("")
	assert.Empty(t, app.Children)
	assert.Nil(t, span.Parent)
}

func TestElementRemove(t *testing.T) {
	dom := NewDOM()
	app := dom.App()

	a := dom.CreateElement("p")
	b := dom.CreateElement("p")
	app.AppendChild(a)
	app.AppendChild(b)

	a.Remove()
	assert.Equal(t, []*Element{b}, app.Children)
	assert.Nil(t, a.Parent)
}
