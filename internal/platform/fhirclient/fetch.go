package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

// Filters narrows a search. Start and End are inclusive calendar dates;
// zero values are omitted.
type Filters struct {
	Start    time.Time
	End      time.Time
	PageSize int
}

// PageRequest asks for one page. A non-empty PageToken (the server's next
// link) takes precedence over Filters.
type PageRequest struct {
	Filters   Filters
	PageToken string
}

// Page is one page of raw resources.
type Page struct {
	Records       []json.RawMessage
	NextPageToken string
	Total         *int
}

// Result is the outcome of following every page of a search.
type Result struct {
	Resource  string
	Records   []json.RawMessage
	Pages     int
	Truncated bool
	// Err is set when pagination stopped early on a failure that was
	// degraded to partial data.
	Err error
}

// Degraded reports whether the result is partial because of a failure.
func (r *Result) Degraded() bool { return r != nil && r.Err != nil }

// dateParam returns the search parameter used for date-window filtering.
func dateParam(resource string) string {
	switch resource {
	case fhirmodels.ResourceCondition:
		return "recorded-date"
	case fhirmodels.ResourceEncounter, fhirmodels.ResourceObservation:
		return "date"
	}
	return ""
}

func (c *Client) searchURL(resource string, f Filters) string {
	q := url.Values{}
	if p := dateParam(resource); p != "" {
		if !f.Start.IsZero() {
			q.Add(p, "ge"+f.Start.Format("2006-01-02"))
		}
		if !f.End.IsZero() {
			q.Add(p, "le"+f.End.Format("2006-01-02"))
		}
	}
	size := f.PageSize
	if size <= 0 {
		size = c.cfg.PageSize
	}
	if size > 0 {
		q.Set("_count", strconv.Itoa(size))
	}
	return c.resourceURL(resource, q)
}

// FetchPage fetches a single searchset page.
func (c *Client) FetchPage(ctx context.Context, resource string, req PageRequest) (*Page, error) {
	target := c.searchURL(resource, req.Filters)
	if req.PageToken != "" {
		resolved, err := c.resolve(req.PageToken)
		if err != nil {
			return nil, err
		}
		target = resolved
	}

	body, err := c.get(ctx, resource, target)
	if err != nil {
		return nil, err
	}

	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, parsingError(target, err)
	}
	if bundle.ResourceType != "Bundle" {
		return nil, parsingError(target, fmt.Errorf("expected Bundle, got %q", bundle.ResourceType))
	}

	return &Page{
		Records:       bundle.Resources(),
		NextPageToken: bundle.NextURL(),
		Total:         bundle.Total,
	}, nil
}

// FetchAll follows next links until none remain or MaxRecords is reached.
//
// Auth and client errors abort and are returned. Any other failure, after
// retries, stops pagination and is reported on Result.Err together with the
// records gathered so far.
func (c *Client) FetchAll(ctx context.Context, resource string, f Filters) (*Result, error) {
	res := &Result{Resource: resource}
	seen := make(map[string]struct{})
	token := ""

	for {
		page, err := c.FetchPage(ctx, resource, PageRequest{Filters: f, PageToken: token})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, ErrAuth) || errors.Is(err, ErrClient) {
				return nil, err
			}
			c.logger.Warn().
				Err(err).
				Str("resource", resource).
				Int("pages", res.Pages).
				Int("records", len(res.Records)).
				Msg("pagination stopped early; continuing with partial data")
			res.Err = err
			return res, nil
		}

		res.Pages++
		res.Records = append(res.Records, page.Records...)
		if len(res.Records) >= MaxRecords {
			if len(res.Records) > MaxRecords || page.NextPageToken != "" {
				res.Truncated = true
			}
			res.Records = res.Records[:MaxRecords]
			c.logger.Warn().
				Str("resource", resource).
				Int("limit", MaxRecords).
				Msg("record limit reached, stopping pagination")
			return res, nil
		}

		if page.NextPageToken == "" {
			return res, nil
		}
		if _, dup := seen[page.NextPageToken]; dup {
			c.logger.Warn().Str("resource", resource).Str("next", page.NextPageToken).Msg("pagination loop detected")
			return res, nil
		}
		seen[page.NextPageToken] = struct{}{}
		token = page.NextPageToken
	}
}

// ExpandValueSet runs ValueSet/$expand for a canonical URL and returns the
// flattened codings.
func (c *Client) ExpandValueSet(ctx context.Context, canonical string) ([]fhir.Coding, error) {
	target := c.resourceURL(fhirmodels.ResourceValueSet+"/$expand", url.Values{"url": {canonical}})
	body, err := c.get(ctx, fhirmodels.ResourceValueSet, target)
	if err != nil {
		return nil, err
	}
	var vs fhir.ValueSet
	if err := json.Unmarshal(body, &vs); err != nil {
		return nil, parsingError(target, err)
	}
	if vs.ResourceType != fhirmodels.ResourceValueSet {
		return nil, parsingError(target, fmt.Errorf("expected ValueSet, got %q", vs.ResourceType))
	}
	return vs.Codings(), nil
}

// FetchPatient reads Patient/{id}. A missing patient yields nil, nil.
func (c *Client) FetchPatient(ctx context.Context, id string) (*fhir.Patient, error) {
	if id == "" {
		return nil, nil
	}
	target := c.resourceURL(fhirmodels.ResourcePatient+"/"+id, nil)
	body, err := c.get(ctx, fhirmodels.ResourcePatient, target)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) && (fe.Status == 404 || fe.Status == 410) {
			return nil, nil
		}
		return nil, err
	}
	var p fhir.Patient
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, parsingError(target, err)
	}
	if p.ResourceType != "" && p.ResourceType != fhirmodels.ResourcePatient {
		return nil, parsingError(target, fmt.Errorf("expected Patient, got %q", p.ResourceType))
	}
	return &p, nil
}

func outcomeDiagnostics(body []byte) string {
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(body, &oo); err != nil || oo.ResourceType != "OperationOutcome" {
		return ""
	}
	return oo.Diagnostics()
}
