// Package access holds the static role to permission table consulted after authentication.
package access

import "github.com/and161185/fin-keeper/internal/model"

// Permission names an action a route requires.
type Permission string

const (
	TransactionsRead  Permission = "transactions:read"
	TransactionsWrite Permission = "transactions:write"
	AccountsRead      Permission = "accounts:read"
	AccountsWrite     Permission = "accounts:write"
	UsersManage       Permission = "users:manage"
	PasswordChange    Permission = "password:change"
)

var table = map[model.Role][]Permission{
	model.RoleUser: {
		TransactionsRead, TransactionsWrite,
		AccountsRead, AccountsWrite,
		PasswordChange,
	},
	model.RoleAdmin: {
		UsersManage,
		PasswordChange,
	},
}

// Allowed reports whether any of roles grants perm. Unknown roles grant nothing.
func Allowed(roles []string, perm Permission) bool {
	for _, r := range roles {
		for _, p := range table[model.Role(r)] {
			if p == perm {
				return true
			}
		}
	}
	return false
}
