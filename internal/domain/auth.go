package domain

import "strings"

// AuthPolicy определяет, кому доступны привилегированные команды.
type AuthPolicy struct {
	ids       map[int64]struct{}
	usernames map[string]struct{}
}

// NewAuthPolicy собирает политику из списков идентификаторов и имён пользователей.
func NewAuthPolicy(ids []int64, usernames []string) AuthPolicy {
	p := AuthPolicy{
		ids:       make(map[int64]struct{}, len(ids)),
		usernames: make(map[string]struct{}, len(usernames)),
	}
	for _, id := range ids {
		if id != 0 {
			p.ids[id] = struct{}{}
		}
	}
	for _, name := range usernames {
		if key := normalizeUsername(name); key != "" {
			p.usernames[key] = struct{}{}
		}
	}
	return p
}

// IsPrivileged сообщает, есть ли у пользователя права администратора.
func (p AuthPolicy) IsPrivileged(userID int64, username string) bool {
	if _, ok := p.ids[userID]; ok && userID != 0 {
		return true
	}
	if key := normalizeUsername(username); key != "" {
		_, ok := p.usernames[key]
		return ok
	}
	return false
}

// Empty сообщает, что политика никому не выдаёт прав.
func (p AuthPolicy) Empty() bool {
	return len(p.ids) == 0 && len(p.usernames) == 0
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}
