package site

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/page"
	"github.com/spigell/autoapply/internal/state"
	"github.com/spigell/autoapply/internal/utils"
)

// Board is a selector-driven Adapter.
type Board struct {
	sel    Selectors
	page   page.Page
	opts   Options
	logger *zap.Logger

	listURL string
}

var _ Adapter = (*Board)(nil)

func NewBoard(sel Selectors, p page.Page, opts Options, log *zap.Logger) *Board {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.ElementWait <= 0 {
		opts.ElementWait = defaultElementWait
	}
	return &Board{sel: sel, page: p, opts: opts, logger: log.With(zap.String("site", sel.Name))}
}

func (b *Board) Name() string { return b.sel.Name }

func (b *Board) FormScope() string { return b.sel.Form }

func (b *Board) SearchURL(params SearchParams) string {
	q := url.Values{}
	if kw := strings.TrimSpace(params.Keywords); kw != "" && b.sel.KeywordsParam != "" {
		q.Set(b.sel.KeywordsParam, kw)
	}
	if loc := strings.TrimSpace(params.Location); loc != "" && b.sel.LocationParam != "" {
		q.Set(b.sel.LocationParam, loc)
	}
	if params.Page > 1 && b.sel.PageParam != "" {
		value := params.Page
		if b.sel.PageSize > 0 {
			value = (params.Page - 1) * b.sel.PageSize
		}
		q.Set(b.sel.PageParam, strconv.Itoa(value))
	}
	if params.EasyApplyOnly {
		for k, v := range b.sel.EasyApplyParams {
			q.Set(k, v)
		}
	}

	u := strings.TrimRight(b.sel.BaseURL, "/") + b.sel.SearchPath
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (b *Board) EnumerateJobs(ctx context.Context) ([]state.JobRef, error) {
	if _, err := page.WaitForSelector(ctx, b.page, b.sel.JobList.Container, b.opts.ElementWait); err != nil {
		return nil, err
	}

	if current, err := b.page.URL(ctx); err == nil && current != "" {
		b.listURL = current
	}

	rows, err := b.page.Extract(ctx, b.sel.JobList)
	if err != nil {
		return nil, fmt.Errorf("extract job cards: %w", err)
	}

	jobs := make([]state.JobRef, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		job := b.jobRef(row)
		if job.ID == "" {
			b.logger.Debug("skipping job card without id", zap.String("title", job.Title))
			continue
		}
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}
		jobs = append(jobs, job)
	}

	b.logger.Debug("enumerated jobs", zap.Int("cards", len(rows)), zap.Int("jobs", len(jobs)))
	return jobs, nil
}

func (b *Board) jobRef(row map[string]string) state.JobRef {
	job := state.JobRef{
		ID:       strings.TrimSpace(row[fieldID]),
		Title:    utils.CollapseSpaces(row[fieldTitle]),
		Company:  utils.CollapseSpaces(row[fieldCompany]),
		Location: utils.CollapseSpaces(row[fieldLocation]),
		URL:      b.absolute(strings.TrimSpace(row[fieldURL])),
	}
	if job.ID == "" && b.sel.JobIDPattern != nil {
		if m := b.sel.JobIDPattern.FindStringSubmatch(job.URL); len(m) > 1 {
			job.ID = m[1]
		}
	}
	return job
}

func (b *Board) absolute(raw string) string {
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	base, err := url.Parse(b.sel.BaseURL)
	if err != nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func (b *Board) OpenJob(ctx context.Context, job state.JobRef) error {
	opened := false
	if !b.sel.OpenByNavigate && b.sel.JobCardLink != "" {
		if err := b.page.ClickSelector(ctx, fmt.Sprintf(b.sel.JobCardLink, job.ID)); err != nil {
			b.logger.Debug("clicking job card failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			opened = true
		}
	}
	if !opened {
		if job.URL == "" {
			return fmt.Errorf("open job %s: no card and no url: %w", job.ID, page.ErrNotFound)
		}
		if err := b.page.Navigate(ctx, job.URL); err != nil {
			return fmt.Errorf("open job %s: %w", job.ID, err)
		}
	}

	ok, err := page.WaitForSelector(ctx, b.page, b.sel.JobDetail, b.opts.ElementWait)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s details did not load: %w", job.ID, page.ErrNotFound)
	}
	return nil
}

func (b *Board) DetectApplyAffordance(ctx context.Context) (Affordance, bool, error) {
	var found Affordance
	ok, err := page.WaitFor(ctx, b.opts.ElementWait, 0, func(ctx context.Context) (bool, error) {
		for _, sel := range b.sel.InPageApply {
			if visible, _ := b.page.Exists(ctx, sel); visible {
				found = Affordance{Selector: sel}
				return true, nil
			}
		}
		for _, sel := range b.sel.ExternalApply {
			if visible, _ := b.page.Exists(ctx, sel); visible {
				found = Affordance{Selector: sel, External: true}
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil || !ok {
		return Affordance{}, false, err
	}

	if texts, err := b.page.Texts(ctx, found.Selector); err == nil && len(texts) > 0 {
		found.Text = utils.CollapseSpaces(texts[0])
	}
	return found, true, nil
}

func (b *Board) IsExternalApplication(_ context.Context, aff Affordance) bool {
	if aff.External {
		return true
	}

	text := strings.ToLower(aff.Text)
	for _, marker := range b.sel.ExternalMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	if len(b.sel.InPageMarkers) == 0 {
		return false
	}
	for _, marker := range b.sel.InPageMarkers {
		if strings.Contains(text, marker) {
			return false
		}
	}
	return true
}

func (b *Board) StartApplication(ctx context.Context, aff Affordance) error {
	if err := b.page.ClickSelector(ctx, aff.Selector); err != nil {
		return fmt.Errorf("click apply: %w", err)
	}

	ok, err := page.WaitForSelector(ctx, b.page, b.sel.Form, b.opts.ElementWait)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoForm
	}
	return nil
}

func (b *Board) NextPage(ctx context.Context) (bool, error) {
	if b.sel.NextPage == "" {
		return false, nil
	}
	if ok, err := b.page.Exists(ctx, b.sel.NextPage); err != nil || !ok {
		return false, err
	}
	if err := b.page.ClickSelector(ctx, b.sel.NextPage); err != nil {
		return false, fmt.Errorf("click next page: %w", err)
	}

	if _, err := page.WaitForSelector(ctx, b.page, b.sel.JobList.Container, b.opts.ElementWait); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Board) ReturnToList(ctx context.Context) error {
	if err := b.page.CloseDialogs(ctx); err != nil {
		b.logger.Debug("closing dialogs failed", zap.Error(err))
	}
	if b.listURL == "" {
		return nil
	}

	current, err := b.page.URL(ctx)
	if err == nil && current == b.listURL {
		return nil
	}
	if err := b.page.Navigate(ctx, b.listURL); err != nil {
		return fmt.Errorf("return to list: %w", err)
	}
	_, err = page.WaitForSelector(ctx, b.page, b.sel.JobList.Container, b.opts.ElementWait)
	return err
}
