package domain

import "fmt"

// Field is the canonical identifier of one profit-and-loss line item,
// independent of how a given export labels it.
type Field string

// FieldGroup classifies a field for the derived totals.
type FieldGroup string

const (
	GroupIncome       FieldGroup = "income"
	GroupCOGS         FieldGroup = "cogs"
	GroupExpense      FieldGroup = "expense"
	GroupOtherIncome  FieldGroup = "other_income"
	GroupOtherExpense FieldGroup = "other_expense"
)

// Income
const (
	FeeForServiceIncome     Field = "feeForServiceIncome"
	PatientPayments         Field = "patientPayments"
	InsuranceReimbursements Field = "insuranceReimbursements"
	MedicareIncome          Field = "medicareIncome"
	MedicaidIncome          Field = "medicaidIncome"
	WorkersCompIncome       Field = "workersCompIncome"
	PersonalInjuryIncome    Field = "personalInjuryIncome"
	LabIncome               Field = "labIncome"
	PharmacyIncome          Field = "pharmacyIncome"
	DMEIncome               Field = "dmeIncome"
	FacilityFeeIncome       Field = "facilityFeeIncome"
	ImagingIncome           Field = "imagingIncome"
	PhysicalTherapyIncome   Field = "physicalTherapyIncome"
	ConsultingIncome        Field = "consultingIncome"
	PracticeIncome          Field = "practiceIncome"
	ManagementFeeIncome     Field = "managementFeeIncome"
	RefundsAndAdjustments   Field = "refundsAndAdjustments"
	OtherPracticeIncome     Field = "otherPracticeIncome"
)

// Cost of goods sold
const (
	MedicalSupplies         Field = "medicalSupplies"
	DrugsAndPharmaceuticals Field = "drugsAndPharmaceuticals"
	LabFees                 Field = "labFees"
	Injectables             Field = "injectables"
	ImplantsAndDevices      Field = "implantsAndDevices"
	DMECost                 Field = "dmeCost"
	ImagingServices         Field = "imagingServices"
	AnesthesiaServices      Field = "anesthesiaServices"
	ContractPhysicians      Field = "contractPhysicians"
	ContractLabor           Field = "contractLabor"
	BillingServices         Field = "billingServices"
	MerchantFees            Field = "merchantFees"
	TranscriptionServices   Field = "transcriptionServices"
	OtherCostOfGoodsSold    Field = "otherCostOfGoodsSold"
)

// Operating expenses
const (
	SalariesAndWages          Field = "salariesAndWages"
	PhysicianCompensation     Field = "physicianCompensation"
	MidLevelCompensation      Field = "midLevelCompensation"
	OfficerCompensation       Field = "officerCompensation"
	Bonuses                   Field = "bonuses"
	PayrollTaxes              Field = "payrollTaxes"
	EmployeeBenefits          Field = "employeeBenefits"
	HealthInsurance           Field = "healthInsurance"
	RetirementContributions   Field = "retirementContributions"
	WorkersCompInsurance      Field = "workersCompInsurance"
	PayrollProcessingFees     Field = "payrollProcessingFees"
	RentExpense               Field = "rentExpense"
	CommonAreaMaintenance     Field = "commonAreaMaintenance"
	Utilities                 Field = "utilities"
	Telephone                 Field = "telephone"
	Internet                  Field = "internet"
	Janitorial                Field = "janitorial"
	RepairsAndMaintenance     Field = "repairsAndMaintenance"
	SecurityServices          Field = "securityServices"
	EquipmentRental           Field = "equipmentRental"
	EquipmentLease            Field = "equipmentLease"
	OfficeSupplies            Field = "officeSupplies"
	PostageAndDelivery        Field = "postageAndDelivery"
	PrintingAndReproduction   Field = "printingAndReproduction"
	ComputerAndSoftware       Field = "computerAndSoftware"
	EHRSubscription           Field = "ehrSubscription"
	ITSupport                 Field = "itSupport"
	AdvertisingAndMarketing   Field = "advertisingAndMarketing"
	Website                   Field = "website"
	PatientEducation          Field = "patientEducation"
	MealsAndEntertainment     Field = "mealsAndEntertainment"
	Travel                    Field = "travel"
	AutomobileExpense         Field = "automobileExpense"
	ContinuingEducation       Field = "continuingEducation"
	DuesAndSubscriptions      Field = "duesAndSubscriptions"
	LicensesAndPermits        Field = "licensesAndPermits"
	MalpracticeInsurance      Field = "malpracticeInsurance"
	GeneralLiabilityInsurance Field = "generalLiabilityInsurance"
	PropertyInsurance         Field = "propertyInsurance"
	AccountingFees            Field = "accountingFees"
	LegalFees                 Field = "legalFees"
	ConsultingFees            Field = "consultingFees"
	ManagementFees            Field = "managementFees"
	CredentialingFees         Field = "credentialingFees"
	BankServiceCharges        Field = "bankServiceCharges"
	CollectionAgencyFees      Field = "collectionAgencyFees"
	BadDebt                   Field = "badDebt"
	MedicalWasteDisposal      Field = "medicalWasteDisposal"
	UniformsAndLaundry        Field = "uniformsAndLaundry"
	Recruiting                Field = "recruiting"
	CharitableContributions   Field = "charitableContributions"
	PropertyTaxes             Field = "propertyTaxes"
	FranchiseTax              Field = "franchiseTax"
	DepreciationExpense       Field = "depreciationExpense"
	AmortizationExpense       Field = "amortizationExpense"
	MiscellaneousExpense      Field = "miscellaneousExpense"
)

// Other income and expense
const (
	InterestIncome     Field = "interestIncome"
	DividendIncome     Field = "dividendIncome"
	GainOnSaleOfAssets Field = "gainOnSaleOfAssets"
	OtherIncome        Field = "otherIncome"
	InterestExpense    Field = "interestExpense"
	LossOnSaleOfAssets Field = "lossOnSaleOfAssets"
	PenaltiesAndFines  Field = "penaltiesAndFines"
	IncomeTaxExpense   Field = "incomeTaxExpense"
	OtherExpense       Field = "otherExpense"
)

// FieldDef describes one canonical field and the export labels that map onto it.
// Labels use the canonical "·" account separator.
type FieldDef struct {
	Field  Field      `json:"field"`
	Group  FieldGroup `json:"group"`
	Labels []string   `json:"labels"`
}

var catalog = []FieldDef{
	{FeeForServiceIncome, GroupIncome, []string{"40000 · Fee for Service Income"}},
	{PatientPayments, GroupIncome, []string{"40100 · Patient Payments"}},
	{InsuranceReimbursements, GroupIncome, []string{"40200 · Insurance Reimbursements", "40200 · Insurance Payments"}},
	{MedicareIncome, GroupIncome, []string{"40300 · Medicare Income"}},
	{MedicaidIncome, GroupIncome, []string{"40400 · Medicaid Income"}},
	{WorkersCompIncome, GroupIncome, []string{"40500 · Workers Comp Income"}},
	{PersonalInjuryIncome, GroupIncome, []string{"40600 · Personal Injury Income", "40600 · PI Income"}},
	{LabIncome, GroupIncome, []string{"41000 · Lab Income"}},
	{PharmacyIncome, GroupIncome, []string{"41500 · Pharmacy Income"}},
	{DMEIncome, GroupIncome, []string{"42000 · DME Income"}},
	{FacilityFeeIncome, GroupIncome, []string{"42500 · ASC Facility Fees"}},
	{ImagingIncome, GroupIncome, []string{"43000 · Imaging Income"}},
	{PhysicalTherapyIncome, GroupIncome, []string{"43500 · Physical Therapy Income"}},
	{ConsultingIncome, GroupIncome, []string{"44000 · Consulting Income"}},
	{PracticeIncome, GroupIncome, []string{"44500 · Practice Income"}},
	{ManagementFeeIncome, GroupIncome, []string{"45000 · Management Fee Income"}},
	{RefundsAndAdjustments, GroupIncome, []string{"46000 · Refunds and Adjustments", "46000 · Refunds & Adjustments"}},
	{OtherPracticeIncome, GroupIncome, []string{"47000 · Other Practice Income"}},

	{MedicalSupplies, GroupCOGS, []string{"50000 · Medical Supplies"}},
	{DrugsAndPharmaceuticals, GroupCOGS, []string{"50100 · Drugs and Pharmaceuticals"}},
	{LabFees, GroupCOGS, []string{"50200 · Lab Fees"}},
	{Injectables, GroupCOGS, []string{"50300 · Injectables"}},
	{ImplantsAndDevices, GroupCOGS, []string{"50400 · Implants and Devices"}},
	{DMECost, GroupCOGS, []string{"50500 · DME Cost"}},
	{ImagingServices, GroupCOGS, []string{"50600 · Imaging Services"}},
	{AnesthesiaServices, GroupCOGS, []string{"50700 · Anesthesia Services"}},
	{ContractPhysicians, GroupCOGS, []string{"51000 · Contract Physicians"}},
	{ContractLabor, GroupCOGS, []string{"51100 · Contract Labor"}},
	{BillingServices, GroupCOGS, []string{"51200 · Billing Services"}},
	{MerchantFees, GroupCOGS, []string{"51300 · Merchant Fees", "51300 · Merchant Account Fees"}},
	{TranscriptionServices, GroupCOGS, []string{"51400 · Transcription Services"}},
	{OtherCostOfGoodsSold, GroupCOGS, []string{"51900 · Other Cost of Goods Sold"}},

	{SalariesAndWages, GroupExpense, []string{"60000 · Salaries and Wages", "60000 · Salaries & Wages"}},
	{PhysicianCompensation, GroupExpense, []string{"60100 · Physician Compensation"}},
	{MidLevelCompensation, GroupExpense, []string{"60200 · Mid-Level Provider Compensation"}},
	{OfficerCompensation, GroupExpense, []string{"60300 · Officer Compensation"}},
	{Bonuses, GroupExpense, []string{"60400 · Bonuses"}},
	{PayrollTaxes, GroupExpense, []string{"60500 · Payroll Taxes"}},
	{EmployeeBenefits, GroupExpense, []string{"60600 · Employee Benefits"}},
	{HealthInsurance, GroupExpense, []string{"60700 · Health Insurance"}},
	{RetirementContributions, GroupExpense, []string{"60800 · 401(k) Contributions", "60800 · 401K Match"}},
	{WorkersCompInsurance, GroupExpense, []string{"60900 · Workers Comp Insurance"}},
	{PayrollProcessingFees, GroupExpense, []string{"61000 · Payroll Processing Fees"}},
	{RentExpense, GroupExpense, []string{"62000 · Rent Expense", "62000 · Rent"}},
	{CommonAreaMaintenance, GroupExpense, []string{"62100 · Common Area Maintenance"}},
	{Utilities, GroupExpense, []string{"62200 · Utilities"}},
	{Telephone, GroupExpense, []string{"62300 · Telephone"}},
	{Internet, GroupExpense, []string{"62400 · Internet"}},
	{Janitorial, GroupExpense, []string{"62500 · Janitorial"}},
	{RepairsAndMaintenance, GroupExpense, []string{"62600 · Repairs and Maintenance"}},
	{SecurityServices, GroupExpense, []string{"62700 · Security Services"}},
	{EquipmentRental, GroupExpense, []string{"62800 · Equipment Rental"}},
	{EquipmentLease, GroupExpense, []string{"62900 · Equipment Lease"}},
	{OfficeSupplies, GroupExpense, []string{"63000 · Office Supplies"}},
	{PostageAndDelivery, GroupExpense, []string{"63100 · Postage and Delivery"}},
	{PrintingAndReproduction, GroupExpense, []string{"63200 · Printing and Reproduction"}},
	{ComputerAndSoftware, GroupExpense, []string{"63300 · Computer and Software"}},
	{EHRSubscription, GroupExpense, []string{"63400 · EHR Subscription"}},
	{ITSupport, GroupExpense, []string{"63500 · IT Support"}},
	{AdvertisingAndMarketing, GroupExpense, []string{"64000 · Advertising and Marketing", "64000 · Advertising & Marketing"}},
	{Website, GroupExpense, []string{"64100 · Website"}},
	{PatientEducation, GroupExpense, []string{"64200 · Patient Education"}},
	{MealsAndEntertainment, GroupExpense, []string{"64300 · Meals and Entertainment"}},
	{Travel, GroupExpense, []string{"64400 · Travel"}},
	{AutomobileExpense, GroupExpense, []string{"64500 · Automobile Expense"}},
	{ContinuingEducation, GroupExpense, []string{"64600 · Continuing Education"}},
	{DuesAndSubscriptions, GroupExpense, []string{"64700 · Dues and Subscriptions"}},
	{LicensesAndPermits, GroupExpense, []string{"64800 · Licenses and Permits"}},
	{MalpracticeInsurance, GroupExpense, []string{"65000 · Malpractice Insurance"}},
	{GeneralLiabilityInsurance, GroupExpense, []string{"65100 · General Liability Insurance"}},
	{PropertyInsurance, GroupExpense, []string{"65200 · Property Insurance"}},
	{AccountingFees, GroupExpense, []string{"66000 · Accounting Fees"}},
	{LegalFees, GroupExpense, []string{"66100 · Legal Fees"}},
	{ConsultingFees, GroupExpense, []string{"66200 · Consulting Fees"}},
	{ManagementFees, GroupExpense, []string{"66300 · Management Fees"}},
	{CredentialingFees, GroupExpense, []string{"66400 · Credentialing Fees"}},
	{BankServiceCharges, GroupExpense, []string{"67000 · Bank Service Charges"}},
	{CollectionAgencyFees, GroupExpense, []string{"67100 · Collection Agency Fees"}},
	{BadDebt, GroupExpense, []string{"67200 · Bad Debt"}},
	{MedicalWasteDisposal, GroupExpense, []string{"67300 · Medical Waste Disposal"}},
	{UniformsAndLaundry, GroupExpense, []string{"67400 · Uniforms and Laundry"}},
	{Recruiting, GroupExpense, []string{"67500 · Recruiting"}},
	{CharitableContributions, GroupExpense, []string{"67600 · Charitable Contributions"}},
	{PropertyTaxes, GroupExpense, []string{"67700 · Taxes - Property"}},
	{FranchiseTax, GroupExpense, []string{"67800 · Franchise Tax"}},
	{DepreciationExpense, GroupExpense, []string{"68000 · Depreciation Expense"}},
	{AmortizationExpense, GroupExpense, []string{"68100 · Amortization Expense"}},
	{MiscellaneousExpense, GroupExpense, []string{"69000 · Miscellaneous Expense", "69000 · Miscellaneous"}},

	{InterestIncome, GroupOtherIncome, []string{"70000 · Interest Income"}},
	{DividendIncome, GroupOtherIncome, []string{"70100 · Dividend Income"}},
	{GainOnSaleOfAssets, GroupOtherIncome, []string{"70200 · Gain on Sale of Assets"}},
	{OtherIncome, GroupOtherIncome, []string{"70900 · Other Income"}},

	{InterestExpense, GroupOtherExpense, []string{"80000 · Interest Expense"}},
	{LossOnSaleOfAssets, GroupOtherExpense, []string{"80100 · Loss on Sale of Assets"}},
	{PenaltiesAndFines, GroupOtherExpense, []string{"80200 · Penalties and Fines"}},
	{IncomeTaxExpense, GroupOtherExpense, []string{"80300 · Income Tax Expense"}},
	{OtherExpense, GroupOtherExpense, []string{"80900 · Other Expense"}},
}

var (
	fieldIndex = buildFieldIndex(catalog)
	fieldOrder = buildFieldOrder(catalog)
)

func buildFieldIndex(defs []FieldDef) map[Field]FieldDef {
	index := make(map[Field]FieldDef, len(defs))
	for _, def := range defs {
		if _, dup := index[def.Field]; dup {
			panic(fmt.Sprintf("domain: duplicate field %q in catalog", def.Field))
		}
		index[def.Field] = def
	}
	return index
}

func buildFieldOrder(defs []FieldDef) map[Field]int {
	order := make(map[Field]int, len(defs))
	for i, def := range defs {
		order[def.Field] = i
	}
	return order
}

// Fields returns the field catalog in statement order.
func Fields() []FieldDef {
	out := make([]FieldDef, len(catalog))
	copy(out, catalog)
	return out
}

// LookupField returns the definition of a canonical field.
func LookupField(f Field) (FieldDef, bool) {
	def, ok := fieldIndex[f]
	return def, ok
}

// IsKnown reports whether f is part of the catalog.
func (f Field) IsKnown() bool {
	_, ok := fieldIndex[f]
	return ok
}

// Group returns the field's group, or "" for unknown fields.
func (f Field) Group() FieldGroup {
	return fieldIndex[f].Group
}
