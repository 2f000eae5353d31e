// Package testsupport provides shared fixtures for tests: temp-directory
// configs, synthetic page frames with known quality scores, and a scripted
// frame decoder.
package testsupport
