package domain

// Role уровень доступа актёра
type Role string

const (
	RoleGuest   Role = "guest"
	RoleStation Role = "station"
	RoleWaiter  Role = "waiter"
	RoleCashier Role = "cashier"
	RoleManager Role = "manager"
)

var roleRank = map[Role]int{
	RoleGuest:   0,
	RoleStation: 1,
	RoleWaiter:  2,
	RoleCashier: 3,
	RoleManager: 4,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast роль не ниже min
func (r Role) AtLeast(min Role) bool {
	rr, ok := roleRank[r]
	if !ok {
		return false
	}
	return rr >= roleRank[min]
}

// Actor текущий пользователь запроса
type Actor struct {
	ID       int64 `json:"id,string"`
	Role     Role  `json:"role"`
	TenantID int64 `json:"tenant_id,string"`
}
