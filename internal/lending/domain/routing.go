package domain

// Route 成本组件的付款方与收款方角色
type Route struct {
	Payer    AccountRole
	Receiver AccountRole
}

type routeKey struct {
	action    Action
	component string
}

// routingTable 固定路由表：(动作, 组件) -> (付款角色, 收款角色)
var routingTable = map[routeKey]Route{
	{ActionOpen, ChargeProcessingFee}:             {RoleEntry, RoleProcessingFeeIncome},
	{ActionApprove, ChargeLoanOriginationFee}:     {RoleEntry, RoleOriginationFeeIncome},
	{ActionApprove, ComponentLoanFundsAllocation}: {RoleLoanFundsSource, RolePendingDisbursal},
	{ActionDisburse, ChargeDisbursementFee}:       {RoleEntry, RoleDisbursementFeeIncome},
	{ActionDisburse, ComponentDisbursePayment}:    {RolePendingDisbursal, RoleCustomerLoan},
	{ActionMarkLate, ChargeLateFee}:               {RoleCustomerLoan, RoleLateFeeIncome},
	{ActionAcceptPayment, ComponentRepayment}:     {RoleEntry, RoleCustomerLoan},
	{ActionWriteOff, ComponentLoanWriteOff}:       {RoleCustomerLoan, RoleArrearsAllowance},
}

func lookupRoute(action Action, component string) (Route, bool) {
	r, ok := routingTable[routeKey{action, component}]
	return r, ok
}

// RouteFor 查询组件路由
func RouteFor(action Action, component string) (Route, error) {
	r, ok := lookupRoute(action, component)
	if !ok {
		return Route{}, &UnroutableComponentError{Action: action, ChargeID: component}
	}
	return r, nil
}

// RequiresCaseAccounts 组件集合的路由是否引用案件级账户
func RequiresCaseAccounts(action Action, components []CostComponent) bool {
	for _, cc := range components {
		if cc.Amount.IsZero() {
			continue
		}
		r, ok := lookupRoute(action, cc.ChargeID)
		if !ok {
			continue
		}
		if r.Payer.Scope() == ScopeCase || r.Receiver.Scope() == ScopeCase {
			return true
		}
	}
	return false
}

// AccountResolver 把角色解析为账本账户标识
type AccountResolver interface {
	Resolve(role AccountRole) (string, error)
}

// roleResolver 依次从命令上下文、产品、案件解析账户
type roleResolver struct {
	product *Product
	c       *Case
	cmd     CommandContext
}

// NewAccountResolver 创建默认的角色解析器
func NewAccountResolver(product *Product, c *Case, cmd CommandContext) AccountResolver {
	return &roleResolver{product: product, c: c, cmd: cmd}
}

func (r *roleResolver) Resolve(role AccountRole) (string, error) {
	var id string
	switch role.Scope() {
	case ScopeCommand:
		id = r.cmd.AccountAssignments[role]
	case ScopeCase:
		id, _ = r.c.Account(role)
	default:
		id = r.product.Accounts[role]
	}
	if id == "" {
		return "", &MissingAccountAssignmentError{Role: role}
	}
	return id, nil
}
