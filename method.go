// Statistical methods understood by the backend

package main

import (
	"fmt"
	"strings"
)

// MethodKind is the tag sent to the backend to select a model family
type MethodKind string

const (
	KindMixedModel MethodKind = "mixed-model"
	KindGEE        MethodKind = "gee"
	KindSKAT       MethodKind = "skat"
	KindCombine    MethodKind = "combine"
	KindBumping    MethodKind = "bumping"
	KindBetaReg    MethodKind = "beta-regression"
	KindLM         MethodKind = "lm"
)

// Method is one of the closed set of model families. Each variant carries only
// the parameters it needs
type Method interface {
	// Kind is the tag sent to the backend
	Kind() MethodKind
	// Params are the backend arguments of the method
	Params() map[string]string
	// Tag is the value of the `method` output column for a cluster of nProbes
	Tag(nProbes int) string
	isMethod()
}

// MixedModel fits a mixed-effect model given in lme4 syntax, e.g. (1|CpG)
type MixedModel struct{}

// GEE fits generalized estimating equations with the given correlation
// structure (ex, ar, in, un) clustered on ClusterVar (usually CpG or id)
type GEE struct {
	CorStr     string
	ClusterVar string
}

// SKAT tests whether the probes jointly improve the fit of the null model
type SKAT struct{}

// Combine fits each probe independently and combines the correlated p-values
// (liptak or z-score)
type Combine struct {
	Stat string
}

// Bumping compares observed coefficients with those from shuffled residuals
type Bumping struct{}

// BetaRegression fits beta regression per probe and combines the p-values
type BetaRegression struct {
	Combine string
}

// LinearModel fits a plain linear model on the cluster
type LinearModel struct{}

func (MixedModel) Kind() MethodKind     { return KindMixedModel }
func (GEE) Kind() MethodKind            { return KindGEE }
func (SKAT) Kind() MethodKind           { return KindSKAT }
func (Combine) Kind() MethodKind        { return KindCombine }
func (Bumping) Kind() MethodKind        { return KindBumping }
func (BetaRegression) Kind() MethodKind { return KindBetaReg }
func (LinearModel) Kind() MethodKind    { return KindLM }

func (MixedModel) Params() map[string]string { return map[string]string{} }
func (m GEE) Params() map[string]string {
	return map[string]string{"gee.corstr": m.CorStr, "gee.clustervar": m.ClusterVar}
}
func (SKAT) Params() map[string]string      { return map[string]string{"skat": "TRUE"} }
func (m Combine) Params() map[string]string { return map[string]string{"combine": m.Stat} }
func (Bumping) Params() map[string]string   { return map[string]string{"bumping": "TRUE"} }
func (m BetaRegression) Params() map[string]string {
	return map[string]string{"combine": m.Combine, "betareg": "TRUE"}
}
func (LinearModel) Params() map[string]string { return map[string]string{} }

func (MixedModel) Tag(nProbes int) string { return singleProbeTag(nProbes, "mixed-model") }
func (m GEE) Tag(nProbes int) string {
	return singleProbeTag(nProbes, "gee:"+m.CorStr+","+m.ClusterVar)
}
func (SKAT) Tag(nProbes int) string      { return singleProbeTag(nProbes, "skat") }
func (m Combine) Tag(nProbes int) string { return singleProbeTag(nProbes, m.Stat) }
func (Bumping) Tag(nProbes int) string   { return singleProbeTag(nProbes, "bumping") }
func (m BetaRegression) Tag(nProbes int) string {
	if nProbes > 1 {
		return m.Combine + "/beta-regression"
	}
	return "beta-regression"
}
func (LinearModel) Tag(int) string { return "lm" }

func (MixedModel) isMethod()     {}
func (GEE) isMethod()            {}
func (SKAT) isMethod()           {}
func (Combine) isMethod()        {}
func (Bumping) isMethod()        {}
func (BetaRegression) isMethod() {}
func (LinearModel) isMethod()    {}

// a single probe is always fit with a linear model
func singleProbeTag(nProbes int, tag string) string {
	if nProbes == 1 {
		return "lm"
	}
	return tag
}

// parseGEEArgs parses "corstr,clustervar" (e.g. "ex,CpG")
func parseGEEArgs(s string) (GEE, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return GEE{}, fmt.Errorf("%w: --gee-args must be 'corstr,variable', got %q", ErrConfig, s)
	}
	corstr, clusterVar := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if len(corstr) < 2 {
		return GEE{}, fmt.Errorf("%w: invalid GEE correlation structure %q", ErrConfig, corstr)
	}
	switch corstr[:2] {
	case "ex", "ar", "in", "un":
	default:
		return GEE{}, fmt.Errorf("%w: invalid GEE correlation structure %q (use ex, ar, in or un)", ErrConfig, corstr)
	}
	if clusterVar == "" {
		return GEE{}, fmt.Errorf("%w: missing GEE cluster variable", ErrConfig)
	}
	return GEE{CorStr: corstr, ClusterVar: clusterVar}, nil
}
