// Package normalize coerces loosely typed export records into typed rows.
//
// Every function here is total: bad input degrades to an absent value (nil)
// or an Unknown flag and is listed in Record.Issues, it never returns an
// error.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Export field names.
const (
	FieldPropertyTitle      = "Property_Title"
	FieldAddress            = "Address"
	FieldMarket             = "Market"
	FieldFlood              = "Flood"
	FieldStreetAddress      = "Street_Address"
	FieldCity               = "City"
	FieldState              = "State"
	FieldZip                = "Zip"
	FieldPropertyType       = "Property_Type"
	FieldHighway            = "Highway"
	FieldTrain              = "Train"
	FieldTaxRate            = "Tax_Rate"
	FieldSQFTBasement       = "SQFT_Basement"
	FieldHTW                = "HTW"
	FieldPool               = "Pool"
	FieldCommercial         = "Commercial"
	FieldWater              = "Water"
	FieldSewage             = "Sewage"
	FieldYearBuilt          = "Year_Built"
	FieldSQFTMU             = "SQFT_MU"
	FieldSQFTTotal          = "SQFT_Total"
	FieldParking            = "Parking"
	FieldBed                = "Bed"
	FieldBath               = "Bath"
	FieldBasementYesNo      = "BasementYesNo"
	FieldLayout             = "Layout"
	FieldRentRestricted     = "Rent_Restricted"
	FieldNeighborhoodRating = "Neighborhood_Rating"
	FieldLatitude           = "Latitude"
	FieldLongitude          = "Longitude"
	FieldSubdivision        = "Subdivision"
	FieldSchoolAverage      = "School_Average"

	FieldReviewedStatus   = "Reviewed_Status"
	FieldMostRecentStatus = "Most_Recent_Status"
	FieldSource           = "Source"
	FieldOccupancy        = "Occupancy"
	FieldNetYield         = "Net_Yield"
	FieldIRR              = "IRR"

	FieldSellingReason        = "Selling_Reason"
	FieldSellerRetainedBroker = "Seller_Retained_Broker"
	FieldFinalReviewer        = "Final_Reviewer"

	FieldValuation = "Valuation"

	FieldPreviousRent  = "Previous_Rent"
	FieldListPrice     = "List_Price"
	FieldZestimate     = "Zestimate"
	FieldARV           = "ARV"
	FieldExpectedRent  = "Expected_Rent"
	FieldRentZestimate = "Rent_Zestimate"
	FieldLowFMR        = "Low_FMR"
	FieldHighFMR       = "High_FMR"
	FieldRedfinValue   = "Redfin_Value"

	FieldHOA     = "HOA"
	FieldHOAFlag = "HOA_Flag"

	FieldUnderwritingRehab = "Underwriting_Rehab"
	FieldRehabCalculation  = "Rehab_Calculation"
	FieldPaint             = "Paint"
	FieldFlooringFlag      = "Flooring_Flag"
	FieldFoundationFlag    = "Foundation_Flag"
	FieldRoofFlag          = "Roof_Flag"
	FieldHVACFlag          = "HVAC_Flag"
	FieldKitchenFlag       = "Kitchen_Flag"
	FieldBathroomFlag      = "Bathroom_Flag"
	FieldAppliancesFlag    = "Appliances_Flag"
	FieldWindowsFlag       = "Windows_Flag"
	FieldLandscapingFlag   = "Landscaping_Flag"
	FieldTrashoutFlag      = "Trashout_Flag"

	FieldTaxes = "Taxes"
)

// FlagFields lists every field coerced with CoerceTernary.
var FlagFields = []string{
	FieldHOAFlag, FieldFlooringFlag, FieldFoundationFlag, FieldRoofFlag,
	FieldHVACFlag, FieldKitchenFlag, FieldBathroomFlag, FieldAppliancesFlag,
	FieldWindowsFlag, FieldLandscapingFlag, FieldTrashoutFlag,
}

// Record is one normalized property with its dependent rows.
type Record struct {
	Property       Property       `json:"property"`
	Lead           Lead           `json:"lead"`
	LeadInfo       LeadInfo       `json:"lead_info"`
	ValuationShape ValuationShape `json:"valuation_shape"`
	Valuations     []Valuation    `json:"valuations"`
	HOA            HOA            `json:"hoa"`
	Rehab          Rehab          `json:"rehab"`
	Taxes          Taxes          `json:"taxes"`
	Issues         []Issue        `json:"issues,omitempty"`
}

type Property struct {
	PropertyTitle      *string  `json:"property_title"`
	Address            *string  `json:"address"`
	Market             *string  `json:"market"`
	Flood              *string  `json:"flood"`
	StreetAddress      *string  `json:"street_address"`
	City               *string  `json:"city"`
	State              *string  `json:"state"`
	Zip                *string  `json:"zip"`
	PropertyType       *string  `json:"property_type"`
	Highway            *string  `json:"highway"`
	Train              *string  `json:"train"`
	TaxRate            *float64 `json:"tax_rate"`
	SQFTBasement       *int64   `json:"sqft_basement"`
	HTW                *string  `json:"htw"`
	Pool               *string  `json:"pool"`
	Commercial         *string  `json:"commercial"`
	Water              *string  `json:"water"`
	Sewage             *string  `json:"sewage"`
	YearBuilt          *int64   `json:"year_built"`
	SQFTMU             *int64   `json:"sqft_mu"`
	SQFTTotal          *string  `json:"sqft_total"`
	Parking            *string  `json:"parking"`
	Bed                *int64   `json:"bed"`
	Bath               *float64 `json:"bath"`
	BasementYesNo      *string  `json:"basement_yes_no"`
	Layout             *string  `json:"layout"`
	RentRestricted     *string  `json:"rent_restricted"`
	NeighborhoodRating *int64   `json:"neighborhood_rating"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	Subdivision        *string  `json:"subdivision"`
	SchoolAverage      *float64 `json:"school_average"`
}

type Lead struct {
	ReviewedStatus   *string  `json:"reviewed_status"`
	MostRecentStatus *string  `json:"most_recent_status"`
	Source           *string  `json:"source"`
	Occupancy        *string  `json:"occupancy"`
	NetYield         *float64 `json:"net_yield"`
	IRR              *float64 `json:"irr"`
}

type LeadInfo struct {
	SellingReason        *string `json:"selling_reason"`
	SellerRetainedBroker *string `json:"seller_retained_broker"`
	FinalReviewer        *string `json:"final_reviewer"`
}

type Valuation struct {
	PreviousRent  *float64 `json:"previous_rent"`
	ListPrice     *float64 `json:"list_price"`
	Zestimate     *float64 `json:"zestimate"`
	ARV           *float64 `json:"arv"`
	ExpectedRent  *float64 `json:"expected_rent"`
	RentZestimate *float64 `json:"rent_zestimate"`
	LowFMR        *float64 `json:"low_fmr"`
	HighFMR       *float64 `json:"high_fmr"`
	RedfinValue   *float64 `json:"redfin_value"`
}

type HOA struct {
	Amount *float64 `json:"hoa"`
	Flag   Ternary  `json:"hoa_flag"`
}

type Rehab struct {
	UnderwritingRehab *float64 `json:"underwriting_rehab"`
	RehabCalculation  *string  `json:"rehab_calculation"`
	Paint             *string  `json:"paint"`
	Flooring          Ternary  `json:"flooring_flag"`
	Foundation        Ternary  `json:"foundation_flag"`
	Roof              Ternary  `json:"roof_flag"`
	HVAC              Ternary  `json:"hvac_flag"`
	Kitchen           Ternary  `json:"kitchen_flag"`
	Bathroom          Ternary  `json:"bathroom_flag"`
	Appliances        Ternary  `json:"appliances_flag"`
	Windows           Ternary  `json:"windows_flag"`
	Landscaping       Ternary  `json:"landscaping_flag"`
	Trashout          Ternary  `json:"trashout_flag"`
}

type Taxes struct {
	Amount *float64 `json:"taxes"`
}

// ValuationShape records how the Valuation field appeared in the export.
type ValuationShape int8

const (
	// ValuationAbsent is a missing, null, empty-string or empty-array value.
	ValuationAbsent ValuationShape = iota
	ValuationSingle
	// ValuationMany is a non-empty array; entries that are not objects are
	// skipped, so Valuations may still be empty.
	ValuationMany
	// ValuationInvalid is any other present value, such as a number or text.
	ValuationInvalid
)

func (s ValuationShape) String() string {
	switch s {
	case ValuationSingle:
		return "single"
	case ValuationMany:
		return "many"
	case ValuationInvalid:
		return "invalid"
	default:
		return "absent"
	}
}

func (s ValuationShape) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Issue is a present value that could not be used.
type Issue struct {
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s=%s: %s", i.Field, i.Raw, i.Reason)
}

func rawString(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case json.Number:
		return string(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}
