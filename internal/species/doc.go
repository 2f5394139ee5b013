// Package species models a single particle species of the relic
// calculation: its mass, decays and interaction rates as functions of the
// bath temperature, its equilibrium thermodynamics and its lifecycle state
// (activity flag, write-once transition temperatures and the append-only
// density series filled by the evolution driver).
//
// Species never hold references to each other. Decay products are named by
// label and resolved through an [Index] at evaluation time.
package species
