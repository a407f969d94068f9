package domain

import (
	"encoding/json"
	"strconv"
)

// Lease — владелец worker identity.
//
// Два состояния:
//
//	Unclaimed       — поле pid пустое или отсутствует
//	ClaimedBy(token) — pid содержит token владельца
//
// Это кооперативная блокировка без fencing-токенов: переход
// Unclaimed → ClaimedBy выполняется одной check-and-set операцией в store.
type Lease struct {
	owner string
}

// Unclaimed — свободная запись.
var Unclaimed = Lease{}

// ClaimedBy возвращает lease, принадлежащий token.
func ClaimedBy(token string) Lease {
	return Lease{owner: token}
}

// LeaseFromPID строит Lease из значения поля pid.
func LeaseFromPID(pid string) Lease {
	return Lease{owner: pid}
}

// ProcessToken возвращает token владельца для процесса с данным pid.
func ProcessToken(pid int) string {
	return strconv.Itoa(pid)
}

// Claimed возвращает true, если у записи есть владелец.
func (l Lease) Claimed() bool {
	return l.owner != ""
}

// Owner возвращает token владельца ("" для Unclaimed).
func (l Lease) Owner() string {
	return l.owner
}

// OwnedBy проверяет, что запись захвачена именно token.
func (l Lease) OwnedBy(token string) bool {
	return l.owner != "" && l.owner == token
}

func (l Lease) String() string {
	if !l.Claimed() {
		return "unclaimed"
	}
	return "claimed by " + l.owner
}

// MarshalJSON кодирует lease как значение поля pid.
func (l Lease) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.owner)
}
