// Package enrollment is a small education-platform service built on the bus core. It owns
// students and enrollments, answers UserRegistered requests from identity and activates
// enrollments when payments confirms a charge.
package enrollment
