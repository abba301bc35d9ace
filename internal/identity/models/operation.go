package models

// Operation names a role-gated action. The authorization matrix in the
// identity service is keyed by these values.
type Operation string

const (
	OpManageTenants      Operation = "manage_tenants"
	OpResetTenantAdmin   Operation = "reset_tenant_admin_password"
	OpWriteCustomer      Operation = "write_customer"
	OpWriteVehicle       Operation = "write_vehicle"
	OpCreateDraft        Operation = "create_draft_record"
	OpEditDraft          Operation = "edit_draft_record"
	OpRecordPayment      Operation = "record_payment"
	OpVerifyPayment      Operation = "verify_payment"
	OpActivateRecord     Operation = "activate_record"
	OpCancelRecord       Operation = "cancel_record"
	OpViewReports        Operation = "view_reports"
	OpDefineDynamicField Operation = "define_dynamic_field"
	OpReadBusinessData   Operation = "read_business_data"
)

// businessWrites are the operations a super admin must never perform.
var businessWrites = map[Operation]bool{
	OpWriteCustomer:  true,
	OpWriteVehicle:   true,
	OpCreateDraft:    true,
	OpEditDraft:      true,
	OpRecordPayment:  true,
	OpVerifyPayment:  true,
	OpActivateRecord: true,
	OpCancelRecord:   true,
}

// IsBusinessWrite reports whether the operation mutates business data.
func (o Operation) IsBusinessWrite() bool { return businessWrites[o] }
