// Package page describes the DOM capabilities the automation needs from a browser tab.
package page

import (
	"context"
	"errors"
	"strings"

	"github.com/spigell/autoapply/internal/utils"
)

// ErrNotFound is returned when an element id or selector does not resolve.
var ErrNotFound = errors.New("element not found")

// FieldKind is the interaction strategy for a form control.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindTextarea FieldKind = "textarea"
	KindSelect   FieldKind = "select"
	KindRadio    FieldKind = "radio"
	KindCheckbox FieldKind = "checkbox"
	KindFile     FieldKind = "file"
)

// LabelHints are the label candidates found around a control.
type LabelHints struct {
	For         string `json:"for"`
	Wrapping    string `json:"wrapping"`
	Legend      string `json:"legend"`
	Aria        string `json:"aria"`
	Placeholder string `json:"placeholder"`
	Nearby      string `json:"nearby"`
}

// Best returns the first non-empty hint in preference order: explicit label,
// wrapping label, fieldset legend, aria-label, placeholder, nearby text.
func (h LabelHints) Best() string {
	for _, candidate := range []string{h.For, h.Wrapping, h.Legend, h.Aria, h.Placeholder, h.Nearby} {
		if c := utils.CollapseSpaces(candidate); c != "" {
			return c
		}
	}
	return ""
}

// Option is one choice of a select or radio group.
type Option struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// Field is a visible, enabled form control.
type Field struct {
	// ID is the handle used by Page methods to address the control.
	ID        string     `json:"id"`
	Kind      FieldKind  `json:"kind"`
	InputType string     `json:"inputType"`
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Checked   bool       `json:"checked"`
	Required  bool       `json:"required"`
	Hints     LabelHints `json:"hints"`
	Options   []Option   `json:"options"`
	// Group is the radio group name.
	Group  string `json:"group"`
	Accept string `json:"accept"`
}

// Label is the best human-readable label for the field.
func (f Field) Label() string {
	if label := f.Hints.Best(); label != "" {
		return label
	}
	return f.Name
}

// Filled reports whether the control already carries a value.
func (f Field) Filled() bool {
	switch f.Kind {
	case KindCheckbox, KindRadio:
		return f.Checked
	case KindSelect:
		v := strings.TrimSpace(f.Value)
		return v != "" && !IsPlaceholder(Option{Value: v, Text: v})
	default:
		return strings.TrimSpace(f.Value) != ""
	}
}

// IsPlaceholder reports whether a select option is a "please choose" entry.
func IsPlaceholder(o Option) bool {
	value := strings.TrimSpace(o.Value)
	text := strings.ToLower(strings.TrimSpace(o.Text))
	if value == "" {
		return true
	}
	for _, marker := range []string{"select", "choose", "please", "--"} {
		if strings.HasPrefix(text, marker) {
			return true
		}
	}
	return false
}

// Button is a visible clickable control.
type Button struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AriaLabel string `json:"ariaLabel"`
}

// Caption joins the visible text and the aria-label.
func (b Button) Caption() string {
	return strings.ToLower(utils.CollapseSpaces(b.Text + " " + b.AriaLabel))
}

// Extractor reads one value out of a matched container. An empty Selector
// means the container itself; an empty Attr means its text.
type Extractor struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
}

// ExtractSpec describes repeated items such as job cards.
type ExtractSpec struct {
	Container string               `json:"container"`
	Fields    map[string]Extractor `json:"fields"`
}

// ItemIDKey is set on every extracted item to the container's element id.
const ItemIDKey = "_id"

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// Exists reports whether selector matches a visible element.
	Exists(ctx context.Context, selector string) (bool, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	Extract(ctx context.Context, spec ExtractSpec) ([]map[string]string, error)
	// Fields and Buttons enumerate controls under scope, or the whole document when scope matches nothing.
	Fields(ctx context.Context, scope string) ([]Field, error)
	Buttons(ctx context.Context, scope string) ([]Button, error)
	Click(ctx context.Context, id string) error
	ClickSelector(ctx context.Context, selector string) error
	SetValue(ctx context.Context, id, value string) error
	SelectOption(ctx context.Context, id, value string) error
	SetChecked(ctx context.Context, id string, checked bool) error
	UploadFile(ctx context.Context, id, path string) error
	// CloseDialogs dismisses open modal dialogs on a best-effort basis.
	CloseDialogs(ctx context.Context) error
}
