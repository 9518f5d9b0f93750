// Package pagetest provides an in-memory page.Page for tests.
package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spigell/autoapply/internal/page"
)

// Step is one screen of a multi-step form.
type Step struct {
	Fields  []page.Field
	Buttons []page.Button
}

// Fake is a scriptable page. Clicking any button of the current step moves
// to the next step unless OnClick handles it.
type Fake struct {
	mu sync.Mutex

	CurrentURL string
	// Visible maps selectors to Exists results.
	Visible map[string]bool
	TextsBy map[string][]string
	// Items maps ExtractSpec.Container to the extracted rows.
	Items map[string][]map[string]string
	Steps []Step
	step  int

	Values  map[string]string
	Checked map[string]bool
	Uploads map[string]string

	Clicks         []string
	SelectorClicks []string
	Navigations    []string
	DialogsClosed  int

	// OnClick overrides the default step advance. Returning false falls back to it.
	OnClick         func(f *Fake, id string) bool
	OnClickSelector func(f *Fake, selector string) error
	OnNavigate      func(f *Fake, url string) error

	FieldsErr     error
	PanicOnFields bool
	// BlockFields makes Fields wait for ctx cancellation, emulating a hung DOM wait.
	BlockFields bool
}

var _ page.Page = (*Fake)(nil)

// New returns a Fake with the given form steps.
func New(steps ...Step) *Fake {
	return &Fake{
		Visible: make(map[string]bool),
		TextsBy: make(map[string][]string),
		Items:   make(map[string][]map[string]string),
		Steps:   steps,
		Values:  make(map[string]string),
		Checked: make(map[string]bool),
		Uploads: make(map[string]string),
	}
}

// Step returns the index of the current form step.
func (f *Fake) Step() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// SetStep jumps to a form step.
func (f *Fake) SetStep(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.step = i
}

func (f *Fake) current() Step {
	if f.step < 0 || f.step >= len(f.Steps) {
		return Step{}
	}
	return f.Steps[f.step]
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	f.Navigations = append(f.Navigations, url)
	f.CurrentURL = url
	hook := f.OnNavigate
	f.mu.Unlock()

	if hook != nil {
		return hook(f, url)
	}
	return nil
}

func (f *Fake) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CurrentURL, nil
}

func (f *Fake) Exists(_ context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Visible[selector], nil
}

func (f *Fake) Texts(_ context.Context, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.TextsBy[selector]...), nil
}

func (f *Fake) Extract(_ context.Context, spec page.ExtractSpec) ([]map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.Items[spec.Container]
	out := make([]map[string]string, 0, len(items))
	for _, item := range items {
		copied := make(map[string]string, len(item))
		for k, v := range item {
			copied[k] = v
		}
		out = append(out, copied)
	}
	return out, nil
}

func (f *Fake) Fields(ctx context.Context, _ string) ([]page.Field, error) {
	f.mu.Lock()
	if f.BlockFields {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer f.mu.Unlock()

	if f.PanicOnFields {
		panic("detached node")
	}
	if f.FieldsErr != nil {
		return nil, f.FieldsErr
	}

	fields := append([]page.Field(nil), f.current().Fields...)
	for i := range fields {
		if v, ok := f.Values[fields[i].ID]; ok {
			fields[i].Value = v
		}
		if c, ok := f.Checked[fields[i].ID]; ok {
			fields[i].Checked = c
		}
	}
	return fields, nil
}

func (f *Fake) Buttons(context.Context, string) ([]page.Button, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]page.Button(nil), f.current().Buttons...), nil
}

func (f *Fake) Click(_ context.Context, id string) error {
	f.mu.Lock()
	f.Clicks = append(f.Clicks, id)
	hook := f.OnClick
	f.mu.Unlock()

	if hook != nil && hook(f, id) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	step := f.current()
	for _, field := range step.Fields {
		if field.ID != id {
			continue
		}
		if field.Kind == page.KindRadio {
			for _, other := range step.Fields {
				if other.Group == field.Group {
					f.Checked[other.ID] = false
				}
			}
			f.Checked[id] = true
			return nil
		}
		f.Checked[id] = !f.Checked[id]
		return nil
	}
	for _, button := range step.Buttons {
		if button.ID == id {
			if f.step < len(f.Steps)-1 {
				f.step++
			}
			return nil
		}
	}
	return fmt.Errorf("click %s: %w", id, page.ErrNotFound)
}

func (f *Fake) ClickSelector(_ context.Context, selector string) error {
	f.mu.Lock()
	f.SelectorClicks = append(f.SelectorClicks, selector)
	hook := f.OnClickSelector
	visible := f.Visible[selector]
	f.mu.Unlock()

	if hook != nil {
		return hook(f, selector)
	}
	if !visible {
		return fmt.Errorf("click %s: %w", selector, page.ErrNotFound)
	}
	return nil
}

func (f *Fake) SetValue(_ context.Context, id, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values[id] = value
	return nil
}

func (f *Fake) SelectOption(_ context.Context, id, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Values[id] = value
	return nil
}

func (f *Fake) SetChecked(_ context.Context, id string, checked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Checked[id] = checked
	return nil
}

func (f *Fake) UploadFile(_ context.Context, id, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads[id] = path
	return nil
}

func (f *Fake) CloseDialogs(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DialogsClosed++
	return nil
}

// SetVisible toggles the Exists result for selector.
func (f *Fake) SetVisible(selector string, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Visible[selector] = visible
}

// SetItems replaces the rows extracted for a container selector.
func (f *Fake) SetItems(container string, items []map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Items[container] = items
}
