package schema

import (
	"fmt"
	"regexp"

	"github.com/rpattn/fleetload/internal/domain"
)

var warehouseCodePattern = regexp.MustCompile(`^WH[0-9]{4,8}$`)

// sqFtPerPallet is the floor area one pallet position needs, aisles included.
const sqFtPerPallet = 10

// Warehouse returns the warehouse upload shape.
func Warehouse() Descriptor {
	const ref = "Warehouse_Ref_ID"
	return Descriptor{
		EntityType:      domain.EntityTypeWarehouse,
		Label:           "Warehouse",
		ReferenceColumn: ref,
		Steps:           uploadSteps,
		Sheets: []SheetDescriptor{
			{
				Name:  SheetBasicInformation,
				Table: "warehouses",
				Basic: true,
				Columns: []Column{
					refColumn(ref),
					{Header: "Warehouse_Name", DBColumn: "warehouse_name", Type: TypeString, Required: true, MaxLength: 200},
					{Header: "Warehouse_Code", DBColumn: "warehouse_code", Type: TypeString, Required: true, Upper: true, Unique: true, Pattern: warehouseCodePattern, Format: "WH followed by 4-8 digits", Description: "Unique across all warehouses"},
					{Header: "Warehouse_Type", DBColumn: "warehouse_type", Type: TypeCode, Required: true, MasterData: "warehouse_types"},
					{Header: "Latitude", DBColumn: "latitude", Type: TypeNumber, Min: limit(-90), Max: limit(90)},
					{Header: "Longitude", DBColumn: "longitude", Type: TypeNumber, Min: limit(-180), Max: limit(180)},
					{Header: "Is_Bonded", DBColumn: "is_bonded", Type: TypeBoolean},
				},
				Samples: []map[string]any{
					{ref: "WR001", "Warehouse_Name": "Chakan Distribution Hub", "Warehouse_Code": "WH0001", "Warehouse_Type": "DISTRIBUTION", "Latitude": 18.7606, "Longitude": 73.8636, "Is_Bonded": false},
					{ref: "WR002", "Warehouse_Name": "Hosur Cold Store", "Warehouse_Code": "WH0002", "Warehouse_Type": "COLD_STORAGE", "Latitude": 12.7409, "Longitude": 77.8253, "Is_Bonded": true},
				},
			},
			{
				Name:         "Address",
				Table:        "warehouse_addresses",
				ParentColumn: "warehouse_id",
				MinRows:      1,
				Columns:      addressColumns(ref),
				Samples: []map[string]any{
					{ref: "WR001", "Address_Line1": "Plot 14, MIDC Phase II", "City": "Chakan", "State": "Maharashtra", "Postal_Code": "410501", "Country": "India"},
					{ref: "WR002", "Address_Line1": "SIPCOT Industrial Area", "City": "Hosur", "State": "Tamil Nadu", "Postal_Code": "635126", "Country": "India"},
				},
			},
			{
				Name:         "Capacity",
				Table:        "warehouse_capacities",
				ParentColumn: "warehouse_id",
				Columns: []Column{
					refColumn(ref),
					{Header: "Storage_Type", DBColumn: "storage_type", Type: TypeEnum, Required: true, Enum: []string{"Ambient", "Cold", "Hazmat", "Bulk"}},
					{Header: "Total_Area_SqFt", DBColumn: "total_area_sqft", Type: TypeNumber, Required: true, Min: limit(0)},
					{Header: "Usable_Area_SqFt", DBColumn: "usable_area_sqft", Type: TypeNumber, Min: limit(0)},
					{Header: "Max_Pallets", DBColumn: "max_pallets", Type: TypeInteger, Min: limit(0)},
				},
				Ranges: []RangePair{{Low: "Usable_Area_SqFt", High: "Total_Area_SqFt"}},
				Samples: []map[string]any{
					{ref: "WR001", "Storage_Type": "Ambient", "Total_Area_SqFt": 50000, "Usable_Area_SqFt": 42000, "Max_Pallets": 3000},
					{ref: "WR002", "Storage_Type": "Cold", "Total_Area_SqFt": 20000, "Usable_Area_SqFt": 15000, "Max_Pallets": 1200},
				},
			},
			documentsSheet(ref, "warehouse_documents", "warehouse_id", []map[string]any{
				{ref: "WR001", "Document_Type": "TRADE_LICENSE", "Document_Number": "TL-PUN-2291", "Issue_Date": "2022-06-01", "Expiry_Date": "2027-05-31"},
				{ref: "WR002", "Document_Type": "FIRE_NOC", "Document_Number": "FN-HSR-0087", "Issue_Date": "2024-02-01", "Expiry_Date": "2026-01-31"},
			}),
		},
		Consistency: []ConsistencyRule{
			{
				Name:     "pallets fit usable area",
				Sheet:    "Capacity",
				Severity: domain.SeverityMedium,
				Check:    checkPalletDensity,
			},
		},
	}
}

func checkPalletDensity(values map[string]any) *Violation {
	pallets, okPallets := Numeric(values["Max_Pallets"])
	usable, okUsable := Numeric(values["Usable_Area_SqFt"])
	if !okPallets || !okUsable || pallets == 0 {
		return nil
	}
	if pallets*sqFtPerPallet <= usable {
		return nil
	}
	return &Violation{
		Field:    "Max_Pallets",
		Message:  fmt.Sprintf("%s pallets need about %s sq ft but only %s sq ft is usable", formatQuantity(pallets), formatQuantity(pallets*sqFtPerPallet), formatQuantity(usable)),
		Expected: fmt.Sprintf("at most %s", formatQuantity(usable/sqFtPerPallet)),
	}
}
