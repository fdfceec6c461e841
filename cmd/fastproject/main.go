package main

import (
	fastproject "github.com/yihanj/FastProject"
)

func main() {
	fastproject.Main()
}
