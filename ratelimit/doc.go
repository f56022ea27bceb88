/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit makes admission decisions for incoming requests.
//
// Manager resolves the effective limit of a request (global, class, identity and endpoint tiers,
// plus the burst setting) and evaluates all applicable sliding windows atomically:
// a request is admitted only if every window has room, and a rejected request is not counted anywhere.
// LoadAdapter tightens all limits by a multiplier while the host is under high load.
package ratelimit
