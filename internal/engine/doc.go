/*
Engine implements the backtest driver.

# Module
  - calendar: aligns assets and bases onto one clock
  - line engine: derived lines, vectorized or incremental per run
  - broadcast: one strategy evaluated on every asset per step
  - order book: market orders resolved on the step after creation
  - risk engine: size and leverage checks before every fill
  - ledger: cash, positions and the equity line

# Source
 1. asset and base series from feed
 2. strategy and indicator registry from config

# Produce
  - Result with step records, equity curve, orders and failures to report and store

# Sharded
  - none, one goroutine drives time; only the signal phase fans out
*/
package engine
