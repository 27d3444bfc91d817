// Package validation checks input structs and collects field errors into a
// single *errors.AppError. Struct tags go through go-playground/validator;
// graph-level checks use the programmatic Validator.
package validation
