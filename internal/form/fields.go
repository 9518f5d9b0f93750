package form

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/utils"
)

func (f *Filler) fillField(ctx context.Context, field page.Field) error {
	label := field.Label()
	if field.Filled() && !f.overwrite(label) {
		return nil
	}

	switch field.Kind {
	case page.KindSelect:
		return f.fillSelect(ctx, field, label)
	case page.KindCheckbox:
		return f.fillCheckbox(ctx, field, label)
	default:
		value := f.resolver.Resolve(ctx, f.question(label, field.Kind, nil))
		if value == "" || value == field.Value {
			return nil
		}
		if err := f.page.SetValue(ctx, field.ID, value); err != nil {
			return err
		}
		f.applied(ctx, label, value)
		return nil
	}
}

func (f *Filler) applied(ctx context.Context, label, value string) {
	f.logger.Debug("filled field",
		zap.String("label", utils.TruncateForLog(label, labelLogLength)),
		zap.String("value", utils.TruncateForLog(value, labelLogLength)),
	)
	f.progress()
	_ = utils.Pace(ctx, f.cfg.FieldDelay)
}

func (f *Filler) fillSelect(ctx context.Context, field page.Field, label string) error {
	var choices []string
	for _, option := range field.Options {
		if !page.IsPlaceholder(option) {
			choices = append(choices, option.Text)
		}
	}
	if len(choices) == 0 {
		return nil
	}

	value := f.resolver.Resolve(ctx, f.question(label, page.KindSelect, choices))
	option, ok := MatchOption(field.Options, value)
	if !ok {
		return fmt.Errorf("no selectable option for %q", label)
	}
	if strings.EqualFold(option.Text, field.Value) {
		return nil
	}
	if err := f.page.SelectOption(ctx, field.ID, option.Value); err != nil {
		return err
	}
	f.applied(ctx, label, option.Text)
	return nil
}

func (f *Filler) fillCheckbox(ctx context.Context, field page.Field, label string) error {
	value := f.resolver.Resolve(ctx, f.question(label, page.KindCheckbox, nil))
	want := Truthy(value)
	// required consent boxes cannot be left unchecked
	if field.Required && value == "" {
		want = true
	}
	if want == field.Checked {
		return nil
	}
	if err := f.page.SetChecked(ctx, field.ID, want); err != nil {
		return err
	}
	f.applied(ctx, label, fmt.Sprint(want))
	return nil
}

func (f *Filler) fillRadioGroup(ctx context.Context, group []page.Field) error {
	if len(group) == 0 {
		return nil
	}

	label := groupLabel(group)
	options := make([]page.Option, 0, len(group))
	for _, radio := range group {
		if radio.Checked && !f.overwrite(label) {
			return nil
		}
		options = append(options, page.Option{Value: radio.Value, Text: radioText(radio)})
	}

	texts := make([]string, 0, len(options))
	for _, option := range options {
		texts = append(texts, option.Text)
	}

	value := f.resolver.Resolve(ctx, f.question(label, page.KindRadio, texts))
	option, ok := MatchOption(options, value)
	if !ok {
		return fmt.Errorf("no radio option for %q", label)
	}

	for _, radio := range group {
		if radio.Value == option.Value && radioText(radio) == option.Text {
			if radio.Checked {
				return nil
			}
			if err := f.page.Click(ctx, radio.ID); err != nil {
				return err
			}
			f.applied(ctx, label, option.Text)
			return nil
		}
	}
	return nil
}

// groupLabel prefers the fieldset legend, which describes the question rather than one choice.
func groupLabel(group []page.Field) string {
	for _, radio := range group {
		if legend := utils.CollapseSpaces(radio.Hints.Legend); legend != "" {
			return legend
		}
	}
	for _, radio := range group {
		if aria := utils.CollapseSpaces(radio.Hints.Aria); aria != "" {
			return aria
		}
	}
	if nearby := utils.CollapseSpaces(group[0].Hints.Nearby); nearby != "" {
		return nearby
	}
	return group[0].Group
}

func radioText(radio page.Field) string {
	for _, candidate := range []string{radio.Hints.For, radio.Hints.Wrapping} {
		if c := utils.CollapseSpaces(candidate); c != "" {
			return c
		}
	}
	return radio.Value
}

// MatchOption picks the option that best fits value: exact value, exact
// text, substring, word overlap, and finally the first non-placeholder option.
func MatchOption(options []page.Option, value string) (page.Option, bool) {
	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)

	if value != "" {
		for _, option := range options {
			if option.Value == value {
				return option, true
			}
		}
		for _, option := range options {
			if strings.EqualFold(strings.TrimSpace(option.Text), value) {
				return option, true
			}
		}
		for _, option := range options {
			text := strings.ToLower(strings.TrimSpace(option.Text))
			if text == "" || page.IsPlaceholder(option) {
				continue
			}
			if strings.Contains(text, lower) || strings.Contains(lower, text) {
				return option, true
			}
		}

		best, bestScore := page.Option{}, 0
		words := tokens(lower)
		for _, option := range options {
			if page.IsPlaceholder(option) {
				continue
			}
			score := overlap(words, tokens(strings.ToLower(option.Text)))
			if score > bestScore {
				best, bestScore = option, score
			}
		}
		if bestScore > 0 {
			return best, true
		}
	}

	for _, option := range options {
		if !page.IsPlaceholder(option) {
			return option, true
		}
	}
	return page.Option{}, false
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		if len(word) > 1 {
			out[word] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	count := 0
	for word := range a {
		if _, ok := b[word]; ok {
			count++
		}
	}
	return count
}

// Truthy interprets a resolved answer as a checkbox intent.
func Truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1", "on", "checked", "agree", "i agree", "accept":
		return true
	default:
		return false
	}
}
