package domain

// LenderRecord is a read-only entry of the lender catalog.
type LenderRecord struct {
	Name                string   `yaml:"name" json:"name"`
	InterestRate        string   `yaml:"interest_rate" json:"interest_rate"`
	MaximumAmount       string   `yaml:"maximum_amount" json:"maximum_amount"`
	About               string   `yaml:"about" json:"about"`
	KeyPoints           []string `yaml:"key_points" json:"key_points"`
	Currency            string   `yaml:"currency" json:"currency"`
	CollateralRequired  bool     `yaml:"collateral_required" json:"collateral_required"`
	NonCollateralOption bool     `yaml:"non_collateral_option" json:"non_collateral_option"`
	USCosignerRequired  bool     `yaml:"us_cosigner_required" json:"us_cosigner_required"`
	Country             string   `yaml:"country" json:"country"`
	UniversityCountry   string   `yaml:"university_country" json:"university_country"`
}
