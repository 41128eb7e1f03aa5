package store

import (
	"database/sql"

	"github.com/property-etl/internal/normalize"
)

// columns lists the data columns of each table in insert order. The args
// helpers below must produce values in the same order.
var columns = map[string][]string{
	TableProperty: {
		"property_title", "address", "market", "flood", "street_address", "city", "state", "zip",
		"property_type", "highway", "train", "tax_rate", "sqft_basement", "htw", "pool", "commercial",
		"water", "sewage", "year_built", "sqft_mu", "sqft_total", "parking", "bed", "bath",
		"basement_yes_no", "layout", "rent_restricted", "neighborhood_rating",
		"latitude", "longitude", "subdivision", "school_average",
	},
	TableLeads: {
		"reviewed_status", "most_recent_status", "source", "occupancy", "net_yield", "irr",
	},
	TableLeadsInfo: {
		"selling_reason", "seller_retained_broker", "final_reviewer",
	},
	TableValuation: {
		"previous_rent", "list_price", "zestimate", "arv", "expected_rent",
		"rent_zestimate", "low_fmr", "high_fmr", "redfin_value",
	},
	TableHOA: {
		"hoa", "hoa_flag",
	},
	TableRehab: {
		"underwriting_rehab", "rehab_calculation", "paint",
		"flooring_flag", "foundation_flag", "roof_flag", "hvac_flag", "kitchen_flag",
		"bathroom_flag", "appliances_flag", "windows_flag", "landscaping_flag", "trashout_flag",
	},
	TableTaxes: {
		"taxes",
	},
}

func propertyArgs(p normalize.Property) []any {
	return []any{
		nullString(p.PropertyTitle), nullString(p.Address), nullString(p.Market), nullString(p.Flood),
		nullString(p.StreetAddress), nullString(p.City), nullString(p.State), nullString(p.Zip),
		nullString(p.PropertyType), nullString(p.Highway), nullString(p.Train), nullFloat(p.TaxRate),
		nullInt(p.SQFTBasement), nullString(p.HTW), nullString(p.Pool), nullString(p.Commercial),
		nullString(p.Water), nullString(p.Sewage), nullInt(p.YearBuilt), nullInt(p.SQFTMU),
		nullString(p.SQFTTotal), nullString(p.Parking), nullInt(p.Bed), nullFloat(p.Bath),
		nullString(p.BasementYesNo), nullString(p.Layout), nullString(p.RentRestricted), nullInt(p.NeighborhoodRating),
		nullFloat(p.Latitude), nullFloat(p.Longitude), nullString(p.Subdivision), nullFloat(p.SchoolAverage),
	}
}

func leadArgs(l normalize.Lead) []any {
	return []any{
		nullString(l.ReviewedStatus), nullString(l.MostRecentStatus), nullString(l.Source),
		nullString(l.Occupancy), nullFloat(l.NetYield), nullFloat(l.IRR),
	}
}

func leadInfoArgs(li normalize.LeadInfo) []any {
	return []any{
		nullString(li.SellingReason), nullString(li.SellerRetainedBroker), nullString(li.FinalReviewer),
	}
}

func valuationArgs(v normalize.Valuation) []any {
	return []any{
		nullFloat(v.PreviousRent), nullFloat(v.ListPrice), nullFloat(v.Zestimate), nullFloat(v.ARV),
		nullFloat(v.ExpectedRent), nullFloat(v.RentZestimate), nullFloat(v.LowFMR), nullFloat(v.HighFMR),
		nullFloat(v.RedfinValue),
	}
}

func hoaArgs(h normalize.HOA) []any {
	return []any{nullFloat(h.Amount), h.Flag}
}

func rehabArgs(r normalize.Rehab) []any {
	return []any{
		nullFloat(r.UnderwritingRehab), nullString(r.RehabCalculation), nullString(r.Paint),
		r.Flooring, r.Foundation, r.Roof, r.HVAC, r.Kitchen,
		r.Bathroom, r.Appliances, r.Windows, r.Landscaping, r.Trashout,
	}
}

func taxesArgs(t normalize.Taxes) []any {
	return []any{nullFloat(t.Amount)}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
