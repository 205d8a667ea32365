package targeting

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"nimbus/internal/experiments/models"
	pstrings "nimbus/pkg/platform/strings"
)

// Criteria is the attribute document understood by AttributeEvaluator. Every
// populated field must match; empty fields are ignored.
type Criteria struct {
	AppID              string   `json:"app_id,omitempty"`
	AppDisplayVersion  string   `json:"app_display_version,omitempty"`
	AppMinVersion      string   `json:"app_min_version,omitempty"`
	AppMaxVersion      string   `json:"app_max_version,omitempty"`
	LocaleLanguage     string   `json:"locale_language,omitempty"`
	LocaleCountry      string   `json:"locale_country,omitempty"`
	DeviceManufacturer string   `json:"device_manufacturer,omitempty"`
	DeviceModel        string   `json:"device_model,omitempty"`
	Regions            []string `json:"regions,omitempty"`
	DebugTags          []string `json:"debug_tags,omitempty"`

	minVersion *semver.Version
	maxVersion *semver.Version
}

// AttributeEvaluator reads the targeting expression as a JSON Criteria
// document and compares it with the context attributes.
type AttributeEvaluator struct{}

func NewAttributeEvaluator() *AttributeEvaluator {
	return &AttributeEvaluator{}
}

// ParseCriteria decodes a Criteria document, rejecting unknown fields and
// malformed version bounds. Region and debug tag lists are trimmed and
// deduplicated; blank entries are dropped.
func ParseCriteria(expression string) (*Criteria, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(expression)))
	dec.DisallowUnknownFields()
	var c Criteria
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode targeting criteria: %w", err)
	}
	c.Regions = pstrings.DedupeAndTrimLower(c.Regions)
	c.DebugTags = pstrings.DedupeAndTrim(c.DebugTags)
	var err error
	if c.minVersion, err = parseBound(c.AppMinVersion); err != nil {
		return nil, err
	}
	if c.maxVersion, err = parseBound(c.AppMaxVersion); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseBound(raw string) (*semver.Version, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid version bound %q: %w", raw, err)
	}
	return v, nil
}

func (e *AttributeEvaluator) Evaluate(appCtx models.AppContext, expression string) (bool, error) {
	c, err := ParseCriteria(expression)
	if err != nil {
		return false, err
	}
	return c.Matches(appCtx), nil
}

// Matches reports whether every populated criterion holds for appCtx.
func (c *Criteria) Matches(appCtx models.AppContext) bool {
	if c.AppID != "" && c.AppID != appCtx.AppID {
		return false
	}
	if c.AppDisplayVersion != "" && c.AppDisplayVersion != appCtx.AppVersion {
		return false
	}
	if !c.versionInRange(appCtx.AppVersion) {
		return false
	}
	if !equalFoldIfSet(c.LocaleLanguage, appCtx.LocaleLanguage) ||
		!equalFoldIfSet(c.LocaleCountry, appCtx.LocaleCountry) ||
		!equalFoldIfSet(c.DeviceManufacturer, appCtx.DeviceManufacturer) ||
		!equalFoldIfSet(c.DeviceModel, appCtx.DeviceModel) {
		return false
	}
	if len(c.Regions) > 0 && !containsFold(c.Regions, appCtx.Region) {
		return false
	}
	if len(c.DebugTags) > 0 && !slices.Contains(c.DebugTags, appCtx.DebugTag) {
		return false
	}
	return true
}

// versionInRange applies the inclusive min/max bounds. A context without a
// parseable version never satisfies a bound, and neither does an unparseable
// bound on a Criteria built without ParseCriteria.
func (c *Criteria) versionInRange(appVersion string) bool {
	if c.AppMinVersion == "" && c.AppMaxVersion == "" {
		return true
	}
	minV, maxV := c.minVersion, c.maxVersion
	var err error
	if minV == nil {
		if minV, err = parseBound(c.AppMinVersion); err != nil {
			return false
		}
	}
	if maxV == nil {
		if maxV, err = parseBound(c.AppMaxVersion); err != nil {
			return false
		}
	}
	v, err := semver.NewVersion(appVersion)
	if err != nil {
		return false
	}
	if minV != nil && v.LessThan(minV) {
		return false
	}
	if maxV != nil && v.GreaterThan(maxV) {
		return false
	}
	return true
}

func equalFoldIfSet(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
