package util

import "fmt"

func ExampleSlugify() {
	fmt.Println(Slugify("Hall Temperature"))
	fmt.Println(Slugify("Example Device (192.168.1.100)"))
	fmt.Println(Slugify("__weird--name__"))
	// Output:
	// hall_temperature
	// example_device_192_168_1_100
	// weird_name
}
