/*
Indicator builds derived lines from raw price lines.

# Module
  - registry: kind to factory, plans declarations in dependency order
  - kernels: one function per built-in shared by both evaluators
  - vectorized evaluator: whole history up front, revealed by the cursor
  - incremental evaluator: one value per step from what is visible
  - policy: picks the evaluator from the memory estimate

# Source
  - indicator specs from strategies, sizing and base_indicators

# Produce
  - derived lines attached to instruments
*/
package indicator
