// Package infra contém as implementações concretas dos contratos do pacote domain.
//
//   - Store: tabela de token buckets por chave, particionada em shards
//     (xxhash) com despejo do menos recentemente reabastecido (golang-lru)
//     e janitor para chaves ociosas
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
package infra
