// Package model holds the credit-risk model artifact: the input schema, the
// fitted preprocessor, the logistic regression and the training pipeline that
// produces them.
package model

import "sort"

const (
	DefaultTarget = "class"
	LabelGood     = "good"
	LabelBad      = "bad"
)

// Schema describes the raw applicant record, before preprocessing.
type Schema struct {
	// Features lists every input column in dataset order.
	Features []string `json:"feature_names"`
	CatCols  []string `json:"cat_cols"`
	NumCols  []string `json:"num_cols"`
	// Domains lists the admissible values of each categorical column, for the UI.
	Domains map[string][]string `json:"domains"`
	Target  string              `json:"target"`
}

// LabelMap maps the target column to the binary class; bad is the positive class.
var LabelMap = map[string]int{LabelGood: 0, LabelBad: 1}

// CreditSchema is the German credit (credit-g) dataset layout.
func CreditSchema() Schema {
	return Schema{
		Features: []string{
			"checking_status",
			"duration",
			"credit_history",
			"purpose",
			"credit_amount",
			"savings_status",
			"employment",
			"installment_commitment",
			"personal_status",
			"other_parties",
			"residence_since",
			"property_magnitude",
			"age",
			"other_payment_plans",
			"housing",
			"existing_credits",
			"job",
			"num_dependents",
			"own_telephone",
			"foreign_worker",
		},
		CatCols: []string{
			"checking_status",
			"credit_history",
			"purpose",
			"savings_status",
			"employment",
			"personal_status",
			"other_parties",
			"property_magnitude",
			"other_payment_plans",
			"housing",
			"job",
			"own_telephone",
			"foreign_worker",
		},
		NumCols: []string{
			"duration",
			"credit_amount",
			"installment_commitment",
			"residence_since",
			"age",
			"existing_credits",
			"num_dependents",
		},
		Domains: map[string][]string{
			"checking_status": {"<0", "0<=X<200", ">=200", "no checking"},
			"credit_history": {
				"no credits/all paid",
				"all paid",
				"existing paid",
				"delayed previously",
				"critical/other existing credit",
			},
			"purpose": {
				"new car",
				"used car",
				"furniture/equipment",
				"radio/tv",
				"domestic appliance",
				"repairs",
				"education",
				"vacation",
				"retraining",
				"business",
				"other",
			},
			"savings_status": {"<100", "100<=X<500", "500<=X<1000", ">=1000", "no known savings"},
			"employment":     {"unemployed", "<1", "1<=X<4", "4<=X<7", ">=7"},
			"personal_status": {
				"male div/sep",
				"female div/dep/mar",
				"male single",
				"male mar/wid",
				"female single",
			},
			"other_parties":       {"none", "co applicant", "guarantor"},
			"property_magnitude":  {"real estate", "life insurance", "car", "no known property"},
			"other_payment_plans": {"bank", "stores", "none"},
			"housing":             {"rent", "own", "for free"},
			"job":                 {"unemp/unskilled non res", "unskilled resident", "skilled", "high qualif/self emp/mgmt"},
			"own_telephone":       {"none", "yes"},
			"foreign_worker":      {"yes", "no"},
		},
		Target: DefaultTarget,
	}
}

// Domain returns the values offered for a categorical column, falling back to
// the categories the preprocessor learned.
func (s Schema) Domain(col string, learned []string) []string {
	if d, ok := s.Domains[col]; ok && len(d) > 0 {
		return d
	}
	out := append([]string(nil), learned...)
	sort.Strings(out)
	return out
}
