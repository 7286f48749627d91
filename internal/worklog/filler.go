package worklog

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/worklog-cli/internal/browser"
	"github.com/xkilldash9x/worklog-cli/internal/locators"
	"github.com/xkilldash9x/worklog-cli/internal/richtext"
)

// editorSections is how many top-level lists the worklog editor has, in the
// order tasks, challenges, blockers.
const editorSections = 3

// Filler completes the open form.
type Filler struct {
	driver       browser.Driver
	resolver     *Resolver
	status       string
	placeholders []string
	settle       time.Duration
	sleep        sleeper
}

// SelectStatus picks the work status. A native select is tried first; custom
// dropdowns are opened and their option clicked. Failure is reported as a
// DropdownSelectionError, which callers treat as a warning.
func (f *Filler) SelectStatus(ctx context.Context, ev *Evidence) error {
	if res, err := f.resolver.ResolveQuick(ctx, ev, locators.TargetStatusNative, browser.WaitPresent); err == nil {
		ok, err := f.driver.SelectOption(ctx, res.Element, f.status)
		if err == nil && ok {
			ev.Step("Selected work status %q", f.status)
			return nil
		}
		if err != nil {
			ev.Warn("Native status select failed: %v", err)
		} else {
			ev.Step("Native select has no %q option; trying the custom dropdown", f.status)
		}
	}

	trigger, err := f.resolver.ResolveQuick(ctx, ev, locators.TargetStatusTrigger, browser.WaitInteractable)
	if err != nil {
		return &DropdownSelectionError{Option: f.status, Err: err}
	}
	if err := f.driver.Click(ctx, trigger.Element); err != nil {
		return &DropdownSelectionError{Option: f.status, Err: fmt.Errorf("opening dropdown: %w", err)}
	}
	if err := f.sleep(ctx, f.settle); err != nil {
		return &DropdownSelectionError{Option: f.status, Err: err}
	}
	option, err := f.resolver.Resolve(ctx, ev, locators.TargetStatusOption, browser.WaitInteractable)
	if err != nil {
		return &DropdownSelectionError{Option: f.status, Err: err}
	}
	if err := f.driver.Click(ctx, option.Element); err != nil {
		return &DropdownSelectionError{Option: f.status, Err: fmt.Errorf("clicking option: %w", err)}
	}
	ev.Step("Selected work status %q from the dropdown", f.status)
	return nil
}

// Fill rewrites the editor so the first item of each section carries content,
// after dropping the placeholder items the form ships with.
func (f *Filler) Fill(ctx context.Context, ev *Evidence, editor *browser.Element, content Content) error {
	if err := f.driver.ScrollIntoView(ctx, editor); err != nil {
		ev.Warn("Could not scroll the editor into view: %v", err)
	}
	html, err := f.driver.InnerHTML(ctx, editor)
	if err != nil {
		return fmt.Errorf("reading editor content: %w", err)
	}
	lists, err := richtext.CountLists(html)
	if err != nil {
		return fmt.Errorf("parsing editor content: %w", err)
	}
	if lists < editorSections {
		return fmt.Errorf("editor has %d list section(s), expected %d: %w", lists, editorSections, richtext.ErrListNotFound)
	}

	cleaned, err := richtext.RemovePlaceholders(html, f.placeholders, richtext.KeepLeadingItems())
	if err != nil {
		return fmt.Errorf("removing placeholders: %w", err)
	}
	if cleaned != html {
		ev.Step("Removed placeholder items from the editor")
	}

	sections := []struct {
		name string
		text string
	}{
		{"tasks completed", content.Tasks},
		{"challenges", content.Challenges},
		{"blockers", content.Blockers},
	}
	out := cleaned
	for i, s := range sections {
		out, err = richtext.RewriteFirstItem(out, i+1, s.text)
		if err != nil {
			return fmt.Errorf("writing %s: %w", s.name, err)
		}
		ev.Step("Filled %s", s.name)
	}

	if err := f.driver.SetInnerHTML(ctx, editor, out); err != nil {
		return fmt.Errorf("writing editor content: %w", err)
	}
	return nil
}
