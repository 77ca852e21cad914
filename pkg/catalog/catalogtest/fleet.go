// Package catalogtest provides a static fleet catalog for unit tests. It
// mirrors the schema seeded by testhelpers.
package catalogtest

import "github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"

func cols(pairs ...string) []catalog.Column {
	out := make([]catalog.Column, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, catalog.Column{
			Name:     pairs[i],
			PGType:   pairs[i+1],
			Type:     catalog.ClassifyType(pairs[i+1]),
			Nullable: true,
		})
	}
	return out
}

// FleetTables returns the fleet schema as catalog tables.
func FleetTables() []catalog.Table {
	return []catalog.Table{
		{Schema: "public", Name: "zone_master", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "name", "text")},
		{Schema: "public", Name: "district_master", PrimaryKey: []string{"id"},
			Columns:     cols("id", "integer", "name", "text", "zone_id", "integer"),
			ForeignKeys: []catalog.ForeignKey{{Column: "zone_id", RefTable: "public.zone_master", RefColumn: "id"}}},
		{Schema: "public", Name: "hosp_master", PrimaryKey: []string{"id"},
			Columns:     cols("id", "integer", "name", "text", "district_id", "integer", "address", "text"),
			ForeignKeys: []catalog.ForeignKey{{Column: "district_id", RefTable: "public.district_master", RefColumn: "id"}}},
		{Schema: "public", Name: "vehicle_master", PrimaryKey: []string{"id"},
			Columns:     cols("id", "integer", "reg_no", "text", "vehicle_type", "text", "plant_id", "integer", "status", "text"),
			ForeignKeys: []catalog.ForeignKey{{Column: "plant_id", RefTable: "public.hosp_master", RefColumn: "id"}}},
		{Schema: "public", Name: "crm_customer_dtls", PrimaryKey: []string{"cust_id"},
			Columns: cols("cust_id", "integer", "customer_name", "text", "phone", "text", "plant_id", "integer")},
		{Schema: "public", Name: "crm_customer_ship_dtls", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "cust_id", "integer", "shipping_address", "text", "site_name", "text")},
		{Schema: "public", Name: "crm_complaint_category", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "category_name", "text")},
		{Schema: "public", Name: "crm_complaint_dtls", PrimaryKey: []string{"id_no"},
			Columns: cols("id_no", "integer", "complaint_date", "timestamp without time zone", "plant_id", "integer",
				"cust_id", "integer", "category_id", "integer", "liability", "numeric",
				"active_status", "character", "product_correction", "character", "complaint_desc", "text")},
		{Schema: "public", Name: "crm_site_visit_dtls", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "complaint_id", "integer", "visit_date", "timestamp without time zone",
				"remarks", "text", "engineer_name", "text")},
		{Schema: "public", Name: "distance_report", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "reg_no", "text", "report_date", "date", "distance", "integer",
				"drum_rotation", "integer", "plant_id", "integer")},
		{Schema: "public", Name: "util_report", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "reg_no", "text", "from_tm", "timestamp without time zone",
				"to_tm", "timestamp without time zone", "duration", "interval", "location", "text", "plant_id", "integer")},
		{Schema: "public", Name: "trip_report", PrimaryKey: []string{"id"},
			Columns: cols("id", "integer", "reg_no", "text", "trip_date", "date", "start_time", "time without time zone",
				"end_time", "time without time zone", "trip_duration", "interval", "total_amount", "text", "plant_id", "integer")},
	}
}

// Fleet returns a catalog over FleetTables.
func Fleet() *catalog.Catalog {
	return catalog.New(FleetTables())
}
