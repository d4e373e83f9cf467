package domain

// AccountRole 记账路由中的账户角色
type AccountRole string

const (
	// RoleEntry 柜员录入账户，由命令上下文指定
	RoleEntry AccountRole = "ENTRY"

	// 以下由产品配置
	RoleLoanFundsSource       AccountRole = "LOAN_FUNDS_SOURCE"
	RoleProcessingFeeIncome   AccountRole = "PROCESSING_FEE_INCOME"
	RoleOriginationFeeIncome  AccountRole = "ORIGINATION_FEE_INCOME"
	RoleDisbursementFeeIncome AccountRole = "DISBURSEMENT_FEE_INCOME"
	RoleLateFeeIncome         AccountRole = "LATE_FEE_INCOME"
	RoleArrearsAllowance      AccountRole = "ARREARS_ALLOWANCE"

	// 以下为案件级账户，首次需要时在账本中创建
	RolePendingDisbursal AccountRole = "PENDING_DISBURSAL"
	RoleCustomerLoan     AccountRole = "CUSTOMER_LOAN"
)

// AccountScope 角色账户的来源
type AccountScope int

const (
	ScopeCommand AccountScope = iota
	ScopeProduct
	ScopeCase
)

// AccountType 账本账户类型
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

var productRoles = []AccountRole{
	RoleLoanFundsSource,
	RoleProcessingFeeIncome,
	RoleOriginationFeeIncome,
	RoleDisbursementFeeIncome,
	RoleLateFeeIncome,
	RoleArrearsAllowance,
}

// caseRoles 案件级账户及其在账本中的类型
var caseRoles = []struct {
	Role AccountRole
	Type AccountType
}{
	{RolePendingDisbursal, AccountTypeAsset},
	{RoleCustomerLoan, AccountTypeAsset},
}

// Scope 返回角色的账户来源
func (r AccountRole) Scope() AccountScope {
	for _, cr := range caseRoles {
		if cr.Role == r {
			return ScopeCase
		}
	}
	if r == RoleEntry {
		return ScopeCommand
	}
	return ScopeProduct
}

// ProductAccountRoles 产品必须配置的账户角色
func ProductAccountRoles() []AccountRole {
	out := make([]AccountRole, len(productRoles))
	copy(out, productRoles)
	return out
}

// CaseAccountRoles 案件级账户角色
func CaseAccountRoles() []AccountRole {
	out := make([]AccountRole, 0, len(caseRoles))
	for _, cr := range caseRoles {
		out = append(out, cr.Role)
	}
	return out
}

// CaseAccountType 返回案件级账户在账本中的类型
func CaseAccountType(role AccountRole) AccountType {
	for _, cr := range caseRoles {
		if cr.Role == role {
			return cr.Type
		}
	}
	return AccountTypeAsset
}
