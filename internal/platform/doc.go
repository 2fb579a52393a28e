package platform

// Package platform contains OS integration and the pure helpers around the
// external fetch tools: link classification, parsing of tool output, file
// placement with duplicate handling and browser cookie store detection.
