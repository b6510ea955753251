package sandbox

import (
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// AppElementID is the id of the element applications render into
const AppElementID = "app"

// DOM is the render target handed to sandboxed code as `document`. It is a
// small element tree that records every mutation made through it.
type DOM struct {
	root    *Element
	changes []DOMChange
	mu      sync.RWMutex
}

// Element represents a DOM element
type Element struct {
	TagName     string
	ID          string
	ClassName   string
	TextContent string
	Attributes  map[string]string
	Children    []*Element
	Parent      *Element

	owner *DOM
}

// NewDOM creates a document whose body holds an empty div#app
func NewDOM() *DOM {
	d := &DOM{changes: []DOMChange{}}
	d.root = d.newElement("document")
	body := d.newElement("body")
	app := d.newElement("div")
	app.ID = AppElementID
	app.Attributes["id"] = AppElementID

	d.root.AddElement(body)
	body.AddElement(app)
	return d
}

func (d *DOM) newElement(tag string) *Element {
	return &Element{
		TagName:    strings.ToLower(tag),
		Attributes: make(map[string]string),
		Children:   []*Element{},
		owner:      d,
	}
}

// CreateElement creates a detached element owned by the document
func (d *DOM) CreateElement(tag string) *Element {
	return d.newElement(tag)
}

// App returns the render target element
func (d *DOM) App() *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.findByID(d.root, AppElementID)
}

// Query finds elements by selector (simplified)
func (d *DOM) Query(selector string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch {
	case strings.HasPrefix(selector, "#"):
		if elem := d.findByID(d.root, strings.TrimPrefix(selector, "#")); elem != nil {
			return []*Element{elem}
		}
		return []*Element{}
	case strings.HasPrefix(selector, "."):
		return d.findByClass(d.root, strings.TrimPrefix(selector, "."))
	default:
		return d.findByTag(d.root, selector)
	}
}

// GetChanges returns accumulated DOM changes
func (d *DOM) GetChanges() []DOMChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DOMChange{}, d.changes...)
}

// RecordChange adds a DOM change
func (d *DOM) RecordChange(change DOMChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

func (d *DOM) findByID(elem *Element, id string) *Element {
	if elem.ID == id {
		return elem
	}
	for _, child := range elem.Children {
		if found := d.findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func (d *DOM) findByClass(elem *Element, class string) []*Element {
	var result []*Element
	for _, name := range strings.Fields(elem.ClassName) {
		if name == class {
			result = append(result, elem)
			break
		}
	}
	for _, child := range elem.Children {
		result = append(result, d.findByClass(child, class)...)
	}
	return result
}

func (d *DOM) findByTag(elem *Element, tag string) []*Element {
	var result []*Element
	if strings.EqualFold(elem.TagName, tag) {
		result = append(result, elem)
	}
	for _, child := range elem.Children {
		result = append(result, d.findByTag(child, tag)...)
	}
	return result
}

// Selector identifies the element in recorded changes
func (e *Element) Selector() string {
	if e.ID != "" {
		return "#" + e.ID
	}
	return e.TagName
}

// GetAttribute retrieves attribute value
func (e *Element) GetAttribute(name string) string {
	return e.Attributes[name]
}

// SetAttribute sets attribute value and records change
func (e *Element) SetAttribute(name, value string) {
	e.Attributes[name] = value
	switch name {
	case "id":
		e.ID = value
	case "class":
		e.ClassName = value
	}
	e.record(DOMChange{Type: "set_attribute", Selector: e.Selector(), Property: name, Value: value})
}

// SetText replaces the text content and drops the children
func (e *Element) SetText(text string) {
	e.TextContent = text
	for _, child := range e.Children {
		child.Parent = nil
	}
	e.Children = []*Element{}
	e.record(DOMChange{Type: "set_text", Selector: e.Selector(), Value: text})
}

// AppendChild attaches child and records change
func (e *Element) AppendChild(child *Element) {
	if child.Parent != nil {
		child.Remove()
	}
	e.AddElement(child)
	e.record(DOMChange{Type: "append_child", Selector: e.Selector(), Value: child.Selector()})
}

// AddElement adds a child element without recording
func (e *Element) AddElement(child *Element) {
	child.Parent = e
	e.Children = append(e.Children, child)
}

// Remove removes element from parent
func (e *Element) Remove() {
	if e.Parent == nil {
		return
	}
	children := e.Parent.Children[:0]
	for _, child := range e.Parent.Children {
		if child != e {
			children = append(children, child)
		}
	}
	e.Parent.Children = children
	e.Parent = nil
}

// Text returns the concatenated text of the element and its descendants
func (e *Element) Text() string {
	var b strings.Builder
	b.WriteString(e.TextContent)
	for _, child := range e.Children {
		b.WriteString(child.Text())
	}
	return b.String()
}

func (e *Element) record(change DOMChange) {
	if e.owner != nil {
		e.owner.RecordChange(change)
	}
}

// domBinding maps JS element objects back to their Go elements
type domBinding struct {
	vm       *goja.Runtime
	dom      *DOM
	proxies  map[*Element]*goja.Object
	elements map[*goja.Object]*Element
}

// injectDOM exposes run.host as the `document` global
func (r *Runtime) injectDOM(run *execution) {
	b := &domBinding{
		vm:       run.vm,
		dom:      run.host,
		proxies:  make(map[*Element]*goja.Object),
		elements: make(map[*goja.Object]*Element),
	}

	document := run.vm.NewObject()
	document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return b.first(b.dom.Query("#" + call.Argument(0).String()))
	})
	document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return b.first(b.dom.Query(call.Argument(0).String()))
	})
	document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		found := b.dom.Query(call.Argument(0).String())
		proxies := make([]interface{}, 0, len(found))
		for _, elem := range found {
			proxies = append(proxies, b.proxy(elem))
		}
		return run.vm.NewArray(proxies...)
	})
	document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return b.proxy(b.dom.CreateElement(call.Argument(0).String()))
	})
	if bodies := b.dom.Query("body"); len(bodies) > 0 {
		document.Set("body", b.proxy(bodies[0]))
	}

	run.vm.Set("document", document)
}

func (b *domBinding) first(found []*Element) goja.Value {
	if len(found) == 0 {
		return goja.Null()
	}
	return b.proxy(found[0])
}

func (b *domBinding) proxy(elem *Element) *goja.Object {
	if obj, ok := b.proxies[elem]; ok {
		return obj
	}

	vm := b.vm
	obj := vm.NewObject()
	obj.Set("tagName", strings.ToUpper(elem.TagName))
	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		value, ok := elem.Attributes[call.Argument(0).String()]
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(value)
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		elem.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child, ok := b.elements[call.Argument(0).ToObject(vm)]
		if !ok {
			panic(vm.NewTypeError("appendChild: argument is not an element"))
		}
		elem.AppendChild(child)
		return call.Argument(0)
	})
	obj.DefineAccessorProperty("textContent",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(elem.Text()) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			elem.SetText(call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("id",
		vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(elem.ID) }),
		vm.ToValue(func(call goja.FunctionCall) goja.Value {
			elem.SetAttribute("id", call.Argument(0).String())
			return goja.Undefined()
		}),
		goja.FLAG_FALSE, goja.FLAG_TRUE)

	b.proxies[elem] = obj
	b.elements[obj] = elem
	return obj
}
