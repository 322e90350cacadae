package main

import "fmt"

func helper(n int) int {
	m := n * 3 // helper-body
	return m
}

func main() {
	fmt.Println(helper(2))
}
