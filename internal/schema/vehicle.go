package schema

import (
	"fmt"
	"math"
	"regexp"

	"github.com/rpattn/fleetload/internal/domain"
)

var (
	registrationPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{1,2}[A-Z]{0,3}[0-9]{4}$`)
	vinPattern          = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	devicePattern       = regexp.MustCompile(`^[A-Z0-9-]{6,32}$`)
)

const payloadTolerance = 0.10

// Vehicle returns the vehicle upload shape.
func Vehicle() Descriptor {
	const ref = "Vehicle_Ref_ID"
	return Descriptor{
		EntityType:      domain.EntityTypeVehicle,
		Label:           "Vehicle",
		ReferenceColumn: ref,
		Steps:           uploadSteps,
		Sheets: []SheetDescriptor{
			{
				Name:  SheetBasicInformation,
				Table: "vehicles",
				Basic: true,
				Columns: []Column{
					refColumn(ref),
					{Header: "Registration_Number", DBColumn: "registration_number", Type: TypeString, Required: true, Upper: true, Unique: true, Pattern: registrationPattern, Format: "e.g. MH12AB1234", Description: "Registration plate, unique across all vehicles"},
					{Header: "VIN", DBColumn: "vin", Type: TypeString, Required: true, Upper: true, Unique: true, Length: 17, Pattern: vinPattern, Format: "17 characters, no I, O or Q", Description: "Vehicle identification number, unique across all vehicles"},
					{Header: "Vehicle_Type", DBColumn: "vehicle_type", Type: TypeCode, Required: true, MasterData: "vehicle_types"},
					{Header: "Make", DBColumn: "make", Type: TypeString, Required: true, MaxLength: 100},
					{Header: "Model", DBColumn: "model", Type: TypeString, Required: true, MaxLength: 100},
					{Header: "Manufacturing_Year", DBColumn: "manufacturing_year", Type: TypeInteger, Min: limit(1980), Max: limit(2100)},
					{Header: "Fuel_Type", DBColumn: "fuel_type", Type: TypeCode, MasterData: "fuel_types"},
					{Header: "GPS_Device_ID", DBColumn: "gps_device_id", Type: TypeString, Upper: true, Unique: true, Pattern: devicePattern, Format: "6-32 letters, digits or hyphens", Description: "Telematics device, unique across all vehicles"},
					{Header: "Is_Active", DBColumn: "is_active", Type: TypeBoolean},
				},
				Samples: []map[string]any{
					{ref: "VR001", "Registration_Number": "MH12AB1234", "VIN": "MAT123456789ABCDE", "Vehicle_Type": "TRUCK", "Make": "Tata", "Model": "Signa 2825", "Manufacturing_Year": 2022, "Fuel_Type": "DIESEL", "GPS_Device_ID": "GPS-100001", "Is_Active": true},
					{ref: "VR002", "Registration_Number": "KA01MX4321", "VIN": "MAT987654321ZYXWV", "Vehicle_Type": "TRAILER", "Make": "Ashok Leyland", "Model": "Ecomet 1615", "Manufacturing_Year": 2021, "Fuel_Type": "CNG", "GPS_Device_ID": "GPS-100002", "Is_Active": true},
				},
			},
			{
				Name:         "Specifications",
				Table:        "vehicle_specifications",
				ParentColumn: "vehicle_id",
				Columns: []Column{
					refColumn(ref),
					{Header: "Engine_Number", DBColumn: "engine_number", Type: TypeString, Upper: true, MaxLength: 64},
					{Header: "Gross_Vehicle_Weight_KG", DBColumn: "gross_vehicle_weight_kg", Type: TypeNumber, Required: true, Min: limit(0)},
					{Header: "Unladen_Weight_KG", DBColumn: "unladen_weight_kg", Type: TypeNumber, Required: true, Min: limit(0)},
					{Header: "Payload_Capacity_KG", DBColumn: "payload_capacity_kg", Type: TypeNumber, Min: limit(0), Description: "Expected to be close to gross minus unladen weight"},
					{Header: "Body_Type", DBColumn: "body_type", Type: TypeEnum, Enum: []string{"Open", "Closed", "Container", "Tanker", "Flatbed", "Refrigerated"}},
					{Header: "Axle_Count", DBColumn: "axle_count", Type: TypeInteger, Min: limit(2), Max: limit(12)},
				},
				Ranges: []RangePair{{Low: "Unladen_Weight_KG", High: "Gross_Vehicle_Weight_KG"}},
				Samples: []map[string]any{
					{ref: "VR001", "Engine_Number": "ENG55001", "Gross_Vehicle_Weight_KG": 28000, "Unladen_Weight_KG": 9500, "Payload_Capacity_KG": 18500, "Body_Type": "Container", "Axle_Count": 3},
					{ref: "VR002", "Engine_Number": "ENG55002", "Gross_Vehicle_Weight_KG": 16000, "Unladen_Weight_KG": 6000, "Payload_Capacity_KG": 10000, "Body_Type": "Open", "Axle_Count": 2},
				},
			},
			{
				Name:         "Ownership",
				Table:        "vehicle_ownerships",
				ParentColumn: "vehicle_id",
				Columns: []Column{
					refColumn(ref),
					{Header: "Owner_Name", DBColumn: "owner_name", Type: TypeString, Required: true, MaxLength: 200},
					{Header: "Ownership_Type", DBColumn: "ownership_type", Type: TypeEnum, Enum: []string{"Owned", "Leased", "Attached"}},
					{Header: "Valid_From", DBColumn: "valid_from", Type: TypeDate, Required: true, Format: "YYYY-MM-DD"},
					{Header: "Valid_To", DBColumn: "valid_to", Type: TypeDate, Format: "YYYY-MM-DD"},
				},
				Ranges: []RangePair{{Low: "Valid_From", High: "Valid_To"}},
				Samples: []map[string]any{
					{ref: "VR001", "Owner_Name": "Acme Logistics Pvt Ltd", "Ownership_Type": "Owned", "Valid_From": "2023-04-01", "Valid_To": "2033-03-31"},
					{ref: "VR002", "Owner_Name": "Southline Leasing", "Ownership_Type": "Leased", "Valid_From": "2024-01-01", "Valid_To": "2026-12-31"},
				},
			},
			documentsSheet(ref, "vehicle_documents", "vehicle_id", []map[string]any{
				{ref: "VR001", "Document_Type": "RC", "Document_Number": "RC-MH12-0001", "Issue_Date": "2023-04-01", "Expiry_Date": "2038-03-31"},
				{ref: "VR002", "Document_Type": "INSURANCE", "Document_Number": "INS-778812", "Issue_Date": "2024-01-01", "Expiry_Date": "2024-12-31"},
			}),
		},
		Consistency: []ConsistencyRule{
			{
				Name:     "payload matches weights",
				Sheet:    "Specifications",
				Severity: domain.SeverityMedium,
				Check:    checkPayload,
			},
		},
	}
}

func checkPayload(values map[string]any) *Violation {
	gross, okGross := Numeric(values["Gross_Vehicle_Weight_KG"])
	unladen, okUnladen := Numeric(values["Unladen_Weight_KG"])
	payload, okPayload := Numeric(values["Payload_Capacity_KG"])
	if !okGross || !okUnladen || !okPayload {
		return nil
	}
	expected := gross - unladen
	if expected <= 0 {
		return nil
	}
	if math.Abs(payload-expected) <= expected*payloadTolerance {
		return nil
	}
	return &Violation{
		Field:    "Payload_Capacity_KG",
		Message:  fmt.Sprintf("payload capacity %s kg is not close to gross minus unladen weight (%s kg)", formatQuantity(payload), formatQuantity(expected)),
		Expected: fmt.Sprintf("about %s", formatQuantity(expected)),
	}
}
