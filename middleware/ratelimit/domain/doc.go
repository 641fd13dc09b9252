// Package domain define os contratos e tipos de domínio do controle de admissão
// (rate limit por chave e limite de concorrência).
//
// Este pacote não depende de net/http nem de implementações concretas: a decisão
// de admitir ou rejeitar é um valor (Decision), não um erro.
package domain
