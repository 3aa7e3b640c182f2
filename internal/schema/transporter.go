package schema

import (
	"regexp"

	"github.com/rpattn/fleetload/internal/domain"
)

var (
	panPattern   = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
)

// Transporter returns the transporter upload shape.
func Transporter() Descriptor {
	const ref = "Transporter_Ref_ID"
	return Descriptor{
		EntityType:      domain.EntityTypeTransporter,
		Label:           "Transporter",
		ReferenceColumn: ref,
		Steps:           uploadSteps,
		Sheets: []SheetDescriptor{
			{
				Name:  SheetBasicInformation,
				Table: "transporters",
				Basic: true,
				Columns: []Column{
					refColumn(ref),
					{Header: "Business_Name", DBColumn: "business_name", Type: TypeString, Required: true, MaxLength: 200},
					{Header: "Transporter_Type", DBColumn: "transporter_type", Type: TypeCode, Required: true, MasterData: "transporter_types"},
					{Header: "PAN", DBColumn: "pan", Type: TypeString, Required: true, Upper: true, Unique: true, Length: 10, Pattern: panPattern, Format: "e.g. AABCA1234F", Description: "Permanent account number, unique across transporters"},
					{Header: "GSTIN", DBColumn: "gstin", Type: TypeString, Upper: true, Unique: true, Length: 15, Pattern: gstinPattern, Format: "15 characters, embeds the PAN", Description: "GST registration, unique across transporters"},
					{Header: "Contact_Email", DBColumn: "contact_email", Type: TypeString, Required: true, Pattern: emailPattern, Format: "name@example.com"},
					{Header: "Contact_Phone", DBColumn: "contact_phone", Type: TypeString, Pattern: phonePattern, Format: "10 digits"},
					{Header: "Fleet_Size", DBColumn: "fleet_size", Type: TypeInteger, Min: limit(0)},
				},
				Samples: []map[string]any{
					{ref: "TR001", "Business_Name": "Acme Roadways", "Transporter_Type": "FLEET_OWNER", "PAN": "AABCA1234F", "GSTIN": "27AABCA1234F1Z5", "Contact_Email": "ops@acmeroadways.example", "Contact_Phone": "9876543210", "Fleet_Size": 45},
					{ref: "TR002", "Business_Name": "Blue Dart Carriers", "Transporter_Type": "BROKER", "PAN": "AADCB5678K", "GSTIN": "29AADCB5678K1ZQ", "Contact_Email": "dispatch@bdcarriers.example", "Contact_Phone": "9123456780", "Fleet_Size": 0},
				},
			},
			{
				Name:         "Addresses",
				Table:        "transporter_addresses",
				ParentColumn: "transporter_id",
				MinRows:      1,
				Columns: append([]Column{
					refColumn(ref),
					{Header: "Address_Type", DBColumn: "address_type", Type: TypeEnum, Required: true, Enum: []string{"Registered", "Billing", "Operational"}},
				}, addressColumns(ref)[1:]...),
				Samples: []map[string]any{
					{ref: "TR001", "Address_Type": "Registered", "Address_Line1": "12 Market Yard Road", "City": "Pune", "State": "Maharashtra", "Postal_Code": "411037", "Country": "India"},
					{ref: "TR002", "Address_Type": "Registered", "Address_Line1": "88 Outer Ring Road", "Address_Line2": "Block C", "City": "Bengaluru", "State": "Karnataka", "Postal_Code": "560103", "Country": "India"},
				},
			},
			{
				Name:         "Contacts",
				Table:        "transporter_contacts",
				ParentColumn: "transporter_id",
				Columns: []Column{
					refColumn(ref),
					{Header: "Contact_Name", DBColumn: "contact_name", Type: TypeString, Required: true, MaxLength: 200},
					{Header: "Designation", DBColumn: "designation", Type: TypeString, MaxLength: 100},
					{Header: "Phone", DBColumn: "phone", Type: TypeString, Pattern: phonePattern, Format: "10 digits"},
					{Header: "Email", DBColumn: "email", Type: TypeString, Pattern: emailPattern, Format: "name@example.com"},
					{Header: "Is_Primary", DBColumn: "is_primary", Type: TypeBoolean},
				},
				Samples: []map[string]any{
					{ref: "TR001", "Contact_Name": "Ravi Kulkarni", "Designation": "Fleet Manager", "Phone": "9876500011", "Email": "ravi@acmeroadways.example", "Is_Primary": true},
				},
			},
			documentsSheet(ref, "transporter_documents", "transporter_id", []map[string]any{
				{ref: "TR001", "Document_Type": "GST_CERTIFICATE", "Document_Number": "GST-27-0045", "Issue_Date": "2020-07-01"},
				{ref: "TR002", "Document_Type": "PAN_CARD", "Document_Number": "AADCB5678K", "Issue_Date": "2019-02-15"},
			}),
		},
		Consistency: []ConsistencyRule{
			{
				Name:     "gstin embeds pan",
				Sheet:    SheetBasicInformation,
				Severity: domain.SeverityMedium,
				Check:    checkGSTINMatchesPAN,
			},
		},
	}
}

func checkGSTINMatchesPAN(values map[string]any) *Violation {
	pan, okPAN := values["PAN"].(string)
	gstin, okGSTIN := values["GSTIN"].(string)
	if !okPAN || !okGSTIN || len(gstin) != 15 || len(pan) != 10 {
		return nil
	}
	if gstin[2:12] == pan {
		return nil
	}
	return &Violation{
		Field:    "GSTIN",
		Message:  "GSTIN characters 3 to 12 do not match the PAN",
		Expected: "??" + pan + "???",
	}
}
