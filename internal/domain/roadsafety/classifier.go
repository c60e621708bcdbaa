package roadsafety

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/internal/platform/metrics"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

// Strategy selects how codings are classified as traffic related.
type Strategy string

const (
	// StrategyKeyword matches configured qualifying codes and keywords in the
	// code or display. It needs no terminology server.
	StrategyKeyword Strategy = "keyword"
	// StrategyValueSet requires membership in the traffic encounter value set.
	StrategyValueSet Strategy = "valueset"
)

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyKeyword:
		return StrategyKeyword, nil
	case StrategyValueSet:
		return StrategyValueSet, nil
	}
	return "", fmt.Errorf("unknown classifier strategy %q (must be keyword or valueset)", s)
}

// DefaultKeywords are matched case-insensitively against code and display.
var DefaultKeywords = []string{
	"traffic", "transport", "vehicle", "collision", "crash",
	"pedestrian", "cyclist", "mva", "motorcycle", "bicycle",
}

// DefaultQualifyingCodes are SNOMED codes that always denote a traffic event.
var DefaultQualifyingCodes = []string{
	fhirmodels.SystemSNOMED + "|" + fhirmodels.SNOMEDTrafficAccident,
	fhirmodels.SystemSNOMED + "|" + fhirmodels.SNOMEDMotorVehicleAccident,
}

// ValueSetLookup answers value set membership. *terminology.Resolver
// implements it.
type ValueSetLookup interface {
	Contains(ctx context.Context, url string, coding fhir.Coding) (bool, error)
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	Strategy Strategy
	// QualifyingCodes are "code" or "system|code" tokens.
	QualifyingCodes []string
	Keywords        []string
	TrafficValueSet string
	InjuryValueSet  string
}

// Classifier decides whether codings denote a traffic event and which
// injury mechanism a condition describes. It never fails: lookup errors
// degrade to the keyword rules.
type Classifier struct {
	strategy        Strategy
	anySystem       map[string]struct{}
	bySystem        map[string]map[string]struct{}
	keywords        []string
	trafficValueSet string
	injuryValueSet  string
	lookup          ValueSetLookup
	logger          zerolog.Logger
}

// NewClassifier creates a Classifier. lookup may be nil in keyword mode.
func NewClassifier(cfg ClassifierConfig, lookup ValueSetLookup, logger zerolog.Logger) *Classifier {
	c := &Classifier{
		strategy:        cfg.Strategy,
		anySystem:       make(map[string]struct{}),
		bySystem:        make(map[string]map[string]struct{}),
		trafficValueSet: cfg.TrafficValueSet,
		injuryValueSet:  cfg.InjuryValueSet,
		lookup:          lookup,
		logger:          logger,
	}
	if c.strategy == "" {
		c.strategy = StrategyKeyword
	}

	codes := cfg.QualifyingCodes
	if codes == nil {
		codes = DefaultQualifyingCodes
	}
	for _, tok := range codes {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		system, code, hasSystem := strings.Cut(tok, "|")
		if !hasSystem {
			c.anySystem[tok] = struct{}{}
			continue
		}
		if c.bySystem[system] == nil {
			c.bySystem[system] = make(map[string]struct{})
		}
		c.bySystem[system][code] = struct{}{}
	}

	kws := cfg.Keywords
	if kws == nil {
		kws = DefaultKeywords
	}
	for _, kw := range kws {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			c.keywords = append(c.keywords, kw)
		}
	}
	return c
}

// Strategy returns the active strategy.
func (c *Classifier) Strategy() Strategy { return c.strategy }

// IsTrafficRelated reports whether a single coding denotes a traffic event.
func (c *Classifier) IsTrafficRelated(ctx context.Context, coding fhir.Coding) bool {
	if coding.Code == "" && coding.Display == "" {
		return false
	}
	if c.strategy == StrategyValueSet && c.lookup != nil && c.trafficValueSet != "" {
		ok, err := c.lookup.Contains(ctx, c.trafficValueSet, coding)
		if err == nil {
			return ok
		}
		metrics.RecordClassifierFallback(c.trafficValueSet)
		c.logger.Debug().Err(err).Str("code", coding.Code).Msg("traffic value set unavailable, using keyword rules")
	}
	return c.matchesKeywordRules(coding)
}

// IsTrafficRelatedCondition reports whether any of the condition's codings
// is traffic related.
func (c *Classifier) IsTrafficRelatedCondition(ctx context.Context, cond *fhir.Condition) bool {
	for _, coding := range cond.Codings() {
		if c.IsTrafficRelated(ctx, coding) {
			return true
		}
	}
	return false
}

// ClassifyInjuryMechanism returns one of fhirmodels.InjuryCategories, or
// fhirmodels.InjuryUnknown for a condition without codings.
func (c *Classifier) ClassifyInjuryMechanism(ctx context.Context, cond *fhir.Condition) string {
	codings := cond.Codings()
	if len(codings) == 0 {
		return fhirmodels.InjuryUnknown
	}
	if !c.IsTrafficRelatedCondition(ctx, cond) {
		return fhirmodels.InjuryOtherCondition
	}

	candidates := codings
	if c.strategy == StrategyValueSet && c.lookup != nil && c.injuryValueSet != "" {
		if members := c.injuryMembers(ctx, codings); len(members) > 0 {
			candidates = members
		}
	}
	return mechanismOf(candidates)
}

// GroupByInjuryType counts conditions per injury category. Every category
// is present; conditions without codings count as "Other condition".
func (c *Classifier) GroupByInjuryType(ctx context.Context, conds []*fhir.Condition) map[string]int {
	groups := make(map[string]int, len(fhirmodels.InjuryCategories))
	for _, cat := range fhirmodels.InjuryCategories {
		groups[cat] = 0
	}
	for _, cond := range conds {
		if cond == nil {
			continue
		}
		cat := c.ClassifyInjuryMechanism(ctx, cond)
		if _, known := groups[cat]; known {
			groups[cat]++
		} else {
			groups[fhirmodels.InjuryOtherCondition]++
		}
	}
	return groups
}

func (c *Classifier) injuryMembers(ctx context.Context, codings []fhir.Coding) []fhir.Coding {
	var out []fhir.Coding
	for _, coding := range codings {
		ok, err := c.lookup.Contains(ctx, c.injuryValueSet, coding)
		if err != nil {
			metrics.RecordClassifierFallback(c.injuryValueSet)
			return nil
		}
		if ok {
			out = append(out, coding)
		}
	}
	return out
}

func (c *Classifier) matchesKeywordRules(coding fhir.Coding) bool {
	if _, ok := c.anySystem[coding.Code]; ok {
		return true
	}
	if coding.System == "" {
		for _, codes := range c.bySystem {
			if _, ok := codes[coding.Code]; ok {
				return true
			}
		}
	} else if _, ok := c.bySystem[coding.System][coding.Code]; ok {
		return true
	}

	code := strings.ToLower(coding.Code)
	display := strings.ToLower(coding.Display)
	for _, kw := range c.keywords {
		if strings.Contains(code, kw) || strings.Contains(display, kw) {
			return true
		}
	}
	return false
}

// mechanismOf picks the injury category from the most specific wording
// found across the codings.
func mechanismOf(codings []fhir.Coding) string {
	var text strings.Builder
	motorCode := false
	for _, cd := range codings {
		if cd.Code == fhirmodels.SNOMEDMotorVehicleAccident {
			motorCode = true
		}
		text.WriteString(strings.ToLower(cd.Display))
		text.WriteByte(' ')
		text.WriteString(strings.ToLower(cd.Code))
		text.WriteByte(' ')
	}
	s := text.String()
	switch {
	case strings.Contains(s, "pedestrian"):
		return fhirmodels.InjuryPedestrian
	case strings.Contains(s, "cyclist"), strings.Contains(s, "bicycle"), strings.Contains(s, "pedal cycle"):
		return fhirmodels.InjuryCyclist
	case motorCode, strings.Contains(s, "motor vehicle"), strings.Contains(s, "motorcycle"),
		strings.Contains(s, "mva"), strings.Contains(s, "car "), strings.Contains(s, "vehicle"):
		return fhirmodels.InjuryMotorVehicle
	case strings.Contains(s, "traffic"), strings.Contains(s, "road"),
		strings.Contains(s, "collision"), strings.Contains(s, "crash"):
		return fhirmodels.InjuryRoadTraffic
	}
	return fhirmodels.InjuryOtherTransport
}
