package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"factoryhub/internal/logger"
	"factoryhub/pkg/models"
)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles        int
	Loaded            int
	SkippedComplex    int
	SkippedDatasource int
	SkippedInvalid    int
}

type compiledSigmaRule struct {
	rule  sigma.Rule
	eval  *sigmaevaluator.RuleEvaluator
	label models.RuleTag
}

// SigmaEngine evaluates Sigma rules against individual canonical events.
type SigmaEngine struct {
	rules []compiledSigmaRule
	ctx   context.Context
}

// NewSigmaEngine compiles every rule under path (a .yml/.yaml file or a
// directory walked recursively). Rules for other products, correlation
// rules and keyword searches are counted in the stats and skipped.
func NewSigmaEngine(path string) (*SigmaEngine, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	files, err := collectRuleFiles(path)
	if err != nil {
		return nil, stats, err
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		rule, err := parseSigmaRuleFile(ruleFile)
		if err != nil {
			logger.Warnf("rules: skipping %s: %v", ruleFile, err)
			stats.SkippedInvalid++
			continue
		}
		if !isGitHubCompatible(rule) {
			stats.SkippedDatasource++
			continue
		}
		if ok, reason := isSimpleSingleEventRule(rule); !ok {
			logger.Debugf("rules: skipping %s: %s", ruleFile, reason)
			stats.SkippedComplex++
			continue
		}

		compiled = append(compiled, compiledSigmaRule{
			rule:  rule,
			eval:  sigmaevaluator.ForRule(rule),
			label: tagFromRule(rule),
		})
		stats.Loaded++
	}

	return &SigmaEngine{rules: compiled, ctx: context.Background()}, stats, nil
}

// Len returns the number of compiled rules.
func (e *SigmaEngine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

func collectRuleFiles(path string) ([]string, error) {
	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat rule path: %w", err)
	}

	if !info.IsDir() {
		if !isYAMLFile(resolved) {
			return nil, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		return []string{resolved}, nil
	}

	var files []string
	err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() && isYAMLFile(filePath) {
			files = append(files, filePath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk rule directory: %w", err)
	}
	return files, nil
}

// Apply evaluates all loaded Sigma rules and returns tags for matched rules.
func (e *SigmaEngine) Apply(event *models.CanonicalEvent) []models.RuleTag {
	if e == nil || event == nil || len(e.rules) == 0 {
		return nil
	}

	eventMap := sigmaEventFrom(event)
	out := make([]models.RuleTag, 0, 4)
	for _, rule := range e.rules {
		res, err := rule.eval.Matches(e.ctx, eventMap)
		if err != nil {
			continue
		}
		if res.Match {
			out = append(out, rule.label)
		}
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func parseSigmaRuleFile(path string) (sigma.Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("read sigma rule %s: %w", path, err)
	}
	rule, err := sigma.ParseRule(raw)
	if err != nil {
		return sigma.Rule{}, fmt.Errorf("parse sigma rule %s: %w", path, err)
	}
	return rule, nil
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isGitHubCompatible(rule sigma.Rule) bool {
	product := strings.ToLower(strings.TrimSpace(rule.Logsource.Product))
	return product == "" || product == models.SourceGitHub
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}

	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}

	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}

	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

// sigmaEventFrom flattens an event into the field names rules select on.
// Meta values are stringified so modifiers like contains and startswith apply.
func sigmaEventFrom(event *models.CanonicalEvent) map[string]interface{} {
	buf := make(map[string]interface{}, len(event.Meta)+10)
	for k := range event.Meta {
		if k == models.MetaRuleTags {
			continue
		}
		buf[k] = event.MetaString(k)
	}
	buf["id"] = event.ID
	buf["type"] = string(event.Type)
	buf["status"] = string(event.Status)
	buf["source"] = event.Source
	buf["org"] = event.Org
	buf["repo"] = event.Repo
	buf["entity_kind"] = string(event.Entity.Kind)
	buf["entity_key"] = event.Entity.Key
	if event.Entity.Title != "" {
		buf["title"] = event.Entity.Title
	}
	if event.Entity.URL != "" {
		buf["url"] = event.Entity.URL
	}
	if event.StationHint != "" {
		buf["station"] = string(event.StationHint)
	}
	return buf
}

func tagFromRule(rule sigma.Rule) models.RuleTag {
	id := strings.TrimSpace(rule.ID)
	if id == "" {
		id = strings.TrimSpace(rule.Title)
	}

	level := strings.ToLower(strings.TrimSpace(rule.Level))
	if level == "" {
		level = "medium"
	}

	return models.RuleTag{
		ID:    id,
		Name:  strings.TrimSpace(rule.Title),
		Level: level,
	}
}
