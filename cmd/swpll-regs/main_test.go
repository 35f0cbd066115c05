package main

import "os"

func Example_main() {
	os.Args = []string{"swpll-regs", "--fixed"}

	main()
	// Output:
	// 11289600 CTL: 0x09009100 DIV: 0x80000019 FRAC: 0x80000C10
	// 12288000 CTL: 0x0A006500 DIV: 0x80000009 FRAC: 0x80000104
	// 22579200 CTL: 0x09009100 DIV: 0x8000000C FRAC: 0x80000C10
	// 24576000 CTL: 0x0A006500 DIV: 0x80000004 FRAC: 0x80000104
	// 45158400 CTL: 0x0A006F00 DIV: 0x80000002 FRAC: 0x80001012
	// 49152000 CTL: 0x0B808200 DIV: 0x80000001 FRAC: 0x8000000D
}
