// isdnphone демонстрационная утилита движка управления вызовами ISDN.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
