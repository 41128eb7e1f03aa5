package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize converts one raw export record. It never fails; the input map is
// not modified.
func Normalize(raw map[string]any) Record {
	r := &fieldReader{raw: raw}

	rec := Record{
		Property: Property{
			PropertyTitle:      r.text(FieldPropertyTitle),
			Address:            r.text(FieldAddress),
			Market:             r.text(FieldMarket),
			Flood:              r.text(FieldFlood),
			StreetAddress:      r.text(FieldStreetAddress),
			City:               r.text(FieldCity),
			State:              r.text(FieldState),
			Zip:                r.text(FieldZip),
			PropertyType:       r.text(FieldPropertyType),
			Highway:            r.text(FieldHighway),
			Train:              r.text(FieldTrain),
			TaxRate:            r.number(FieldTaxRate),
			SQFTBasement:       r.integer(FieldSQFTBasement),
			HTW:                r.text(FieldHTW),
			Pool:               r.text(FieldPool),
			Commercial:         r.text(FieldCommercial),
			Water:              r.text(FieldWater),
			Sewage:             r.text(FieldSewage),
			YearBuilt:          r.integer(FieldYearBuilt),
			SQFTMU:             r.integer(FieldSQFTMU),
			SQFTTotal:          r.sqft(FieldSQFTTotal),
			Parking:            r.text(FieldParking),
			Bed:                r.integer(FieldBed),
			Bath:               r.number(FieldBath),
			BasementYesNo:      r.text(FieldBasementYesNo),
			Layout:             r.text(FieldLayout),
			RentRestricted:     r.text(FieldRentRestricted),
			NeighborhoodRating: r.integer(FieldNeighborhoodRating),
			Latitude:           r.number(FieldLatitude),
			Longitude:          r.number(FieldLongitude),
			Subdivision:        r.text(FieldSubdivision),
			SchoolAverage:      r.number(FieldSchoolAverage),
		},
		Lead: Lead{
			ReviewedStatus:   r.text(FieldReviewedStatus),
			MostRecentStatus: r.text(FieldMostRecentStatus),
			Source:           r.text(FieldSource),
			Occupancy:        r.text(FieldOccupancy),
			NetYield:         r.number(FieldNetYield),
			IRR:              r.number(FieldIRR),
		},
		LeadInfo: LeadInfo{
			SellingReason:        r.text(FieldSellingReason),
			SellerRetainedBroker: r.text(FieldSellerRetainedBroker),
			FinalReviewer:        r.text(FieldFinalReviewer),
		},
		HOA: HOA{
			Amount: r.number(FieldHOA),
			Flag:   r.flag(FieldHOAFlag),
		},
		Rehab: Rehab{
			UnderwritingRehab: r.number(FieldUnderwritingRehab),
			RehabCalculation:  r.text(FieldRehabCalculation),
			Paint:             r.text(FieldPaint),
			Flooring:          r.flag(FieldFlooringFlag),
			Foundation:        r.flag(FieldFoundationFlag),
			Roof:              r.flag(FieldRoofFlag),
			HVAC:              r.flag(FieldHVACFlag),
			Kitchen:           r.flag(FieldKitchenFlag),
			Bathroom:          r.flag(FieldBathroomFlag),
			Appliances:        r.flag(FieldAppliancesFlag),
			Windows:           r.flag(FieldWindowsFlag),
			Landscaping:       r.flag(FieldLandscapingFlag),
			Trashout:          r.flag(FieldTrashoutFlag),
		},
		Taxes: Taxes{
			Amount: r.number(FieldTaxes),
		},
	}

	rec.ValuationShape, rec.Valuations = r.valuations()
	rec.Issues = r.issues
	return rec
}

// fieldReader pulls typed values out of a raw record and keeps track of the
// ones that had to be discarded.
type fieldReader struct {
	raw    map[string]any
	prefix string
	issues []Issue
}

func (r *fieldReader) lookup(key string) (any, bool) {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return v, false
	}
	return v, true
}

func (r *fieldReader) issue(key string, v any, reason string) {
	r.issues = append(r.issues, Issue{Field: r.prefix + key, Raw: rawString(v), Reason: reason})
}

func (r *fieldReader) number(key string) *float64 {
	v, present := r.lookup(key)
	out := CoerceNumber(v)
	if out == nil && present {
		r.issue(key, v, "not a number")
	}
	return out
}

func (r *fieldReader) integer(key string) *int64 {
	v, present := r.lookup(key)
	out := CoerceInteger(v)
	if out == nil && present {
		r.issue(key, v, "not an integer")
	}
	return out
}

func (r *fieldReader) flag(key string) Ternary {
	v, present := r.lookup(key)
	out := CoerceTernary(v)
	if out == Unknown && present {
		r.issue(key, v, "unrecognized flag")
	}
	return out
}

func (r *fieldReader) sqft(key string) *string {
	v, present := r.lookup(key)
	out := CleanSquareFootage(v)
	if out == nil && present {
		r.issue(key, v, "not a square footage")
	}
	return out
}

// text passes scalar values through as strings. Empty strings are kept as
// they are; nested values cannot be stored in a text column and are dropped.
func (r *fieldReader) text(key string) *string {
	v, ok := r.raw[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = string(x)
	case bool:
		s = strconv.FormatBool(x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		r.issue(key, v, "nested value in text field")
		return nil
	}
	return &s
}

func (r *fieldReader) valuations() (ValuationShape, []Valuation) {
	switch v := r.raw[FieldValuation].(type) {
	case nil:
		return ValuationAbsent, nil
	case map[string]any:
		return ValuationSingle, []Valuation{r.valuation(v, FieldValuation+".")}
	case string:
		if v == "" {
			return ValuationAbsent, nil
		}
		r.issue(FieldValuation, v, "valuation is not an object or array")
		return ValuationInvalid, nil
	case []any:
		if len(v) == 0 {
			return ValuationAbsent, nil
		}
		out := make([]Valuation, 0, len(v))
		for i, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				r.issue(fmt.Sprintf("%s[%d]", FieldValuation, i), elem, "valuation entry is not an object")
				continue
			}
			out = append(out, r.valuation(m, fmt.Sprintf("%s[%d].", FieldValuation, i)))
		}
		return ValuationMany, out
	default:
		r.issue(FieldValuation, v, "valuation is not an object or array")
		return ValuationInvalid, nil
	}
}

func (r *fieldReader) valuation(m map[string]any, prefix string) Valuation {
	sub := &fieldReader{raw: m, prefix: prefix}
	val := Valuation{
		PreviousRent:  sub.number(FieldPreviousRent),
		ListPrice:     sub.number(FieldListPrice),
		Zestimate:     sub.number(FieldZestimate),
		ARV:           sub.number(FieldARV),
		ExpectedRent:  sub.number(FieldExpectedRent),
		RentZestimate: sub.number(FieldRentZestimate),
		LowFMR:        sub.number(FieldLowFMR),
		HighFMR:       sub.number(FieldHighFMR),
		RedfinValue:   sub.number(FieldRedfinValue),
	}
	r.issues = append(r.issues, sub.issues...)
	return val
}
