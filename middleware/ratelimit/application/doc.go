// Package application contém os casos de uso do controle de admissão.
//
// Depende só do pacote domain e não conhece net/http.
// Ex.: Service.Decide(key) devolve uma Decision (admitir/rejeitar + retry-after).
package application
