// Package script reads the project's HCL files: configure.hcl, which
// declares the variants and their construction variables, and the per
// directory build.hcl files, which declare targets, install rules and
// groups.
package script
