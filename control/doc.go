// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package control holds the operational surface of the server: layered
// configuration, prometheus metrics and runtime debug probes.
package control
