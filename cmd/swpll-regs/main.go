package main

import (
	swpll "github.com/doismellburning/swpll/src"
)

func main() {
	swpll.RegsMain()
}
